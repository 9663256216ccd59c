// Package rules contains the deterministic decision functions of the agent
// pipeline: lead scoring, follow-up sequence selection, overdue detection,
// payment reconciliation, anomaly detection and trend summaries. Functions in
// this package are pure and perform no I/O; given equal input they always
// produce equal output, which is what makes agent decisions auditable and
// safe to replay.
package rules
