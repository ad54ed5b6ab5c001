/*
Package main 提供 expflow 服务端程序入口。

# 概述

cmd/expflow 是实验分流引擎的可执行入口，提供 HTTP API 服务、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集以及配置热重载。

# 核心类型

  - Server           — 主服务器，管理存储、缓存、引擎与 HTTP 生命周期
  - Handlers         — 实验 API 的 HTTP 处理器集合
  - Middleware       — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、migrate（数据库迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    OTelTracing、MetricsMiddleware、RateLimiter（基于 IP）
  - 配置热重载：Reloader 监听文件变更，运行时切换 bandit 等开关
  - /metrics 暴露 Prometheus 指标
  - 优雅关闭：信号监听 → 停止热更新 → 关闭 HTTP → 释放存储与缓存
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
