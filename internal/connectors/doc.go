// Package connectors 预留给第三方业务系统的直连适配器（邮件、日历、CRM、
// 支付网关等）。当前版本的所有副作用都经由审批后的 webhook 路由交给下游
// 自动化引擎执行，参见 internal/dispatch；当某个集成需要绕过自动化引擎
// 直接调用外部 API 时，其客户端实现放在本目录下。
package connectors
