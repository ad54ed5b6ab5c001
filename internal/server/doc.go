/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，支持非阻塞启动、
优雅关闭与系统信号监听。

  - Manager：封装 net/http.Server，提供 Start/StartTLS/Shutdown/
    WaitForShutdown 等生命周期方法与异步错误通道。
  - Config：监听地址、读写超时、空闲超时、请求头上限与关闭超时。

TLS 启动统一使用 tlsutil 的加固配置。
*/
package server
