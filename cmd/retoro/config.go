package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// 环境变量（均使用 RETORO_ 前缀）
const (
	envPrefix = "RETORO_"

	envName               = "NAME"
	envListen             = "LISTEN"
	envBootstrap          = "BOOTSTRAP"
	envRelays             = "RELAYS"
	envEnableRelayService = "ENABLE_RELAY_SERVICE"
	envEnableMDNS         = "ENABLE_MDNS"
	envEnableNAT          = "ENABLE_NAT"
	envSTUNServers        = "STUN_SERVERS"
	envDataDir            = "DATA_DIR"
	envIdentity           = "IDENTITY"
	envIdentityPassphrase = "IDENTITY_PASSPHRASE"
	envLogFile            = "LOG_FILE"
	envMetricsAddr        = "METRICS_ADDR"
)

// ============================================================================
//                              配置文件
// ============================================================================

// fileConfig JSON 配置文件
type fileConfig struct {
	Name               string   `json:"name,omitempty"`
	Listen             []string `json:"listen,omitempty"`
	Bootstrap          []string `json:"bootstrap,omitempty"`
	Relays             []string `json:"relays,omitempty"`
	EnableRelayService bool     `json:"enable_relay_service,omitempty"`
	EnableMDNS         *bool    `json:"enable_mdns,omitempty"`
	EnableNAT          bool     `json:"enable_nat,omitempty"`
	STUNServers        []string `json:"stun_servers,omitempty"`
	DataDir            string   `json:"data_dir,omitempty"`
	Identity           string   `json:"identity,omitempty"`
	LogFile            string   `json:"log_file,omitempty"`
	MetricsAddr        string   `json:"metrics_addr,omitempty"`
}

// loadConfigFile 从 JSON 文件加载配置
func loadConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // 用户指定的配置文件
	if err != nil {
		return nil, err
	}

	var cfg fileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 %s: %w", path, err)
	}
	return &cfg, nil
}

// applyEnvOverrides 应用环境变量覆盖
//
// 环境变量优先级高于配置文件，低于命令行参数。
func applyEnvOverrides(cfg *fileConfig) {
	if v := getenv(envName); v != "" {
		cfg.Name = v
	}
	if v := getenv(envListen); v != "" {
		cfg.Listen = splitAndTrim(v, ",")
	}
	if v := getenv(envBootstrap); v != "" {
		cfg.Bootstrap = splitAndTrim(v, ",")
	}
	if v := getenv(envRelays); v != "" {
		cfg.Relays = splitAndTrim(v, ",")
	}
	if v := getenv(envEnableRelayService); v != "" {
		cfg.EnableRelayService = parseBool(v)
	}
	if v := getenv(envEnableMDNS); v != "" {
		b := parseBool(v)
		cfg.EnableMDNS = &b
	}
	if v := getenv(envEnableNAT); v != "" {
		cfg.EnableNAT = parseBool(v)
	}
	if v := getenv(envSTUNServers); v != "" {
		cfg.STUNServers = splitAndTrim(v, ",")
	}
	if v := getenv(envDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := getenv(envIdentity); v != "" {
		cfg.Identity = v
	}
	if v := getenv(envLogFile); v != "" {
		cfg.LogFile = v
	}
	if v := getenv(envMetricsAddr); v != "" {
		cfg.MetricsAddr = v
	}
}

func getenv(name string) string {
	return os.Getenv(envPrefix + name)
}

// ============================================================================
//                              辅助函数
// ============================================================================

// parseBool 解析布尔值字符串
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
