// Package config 提供 expflow 服务的统一配置：默认值、YAML 文件、
// 环境变量三层叠加，外加配置文件热重载。
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（前缀 EXPFLOW）。
package config
