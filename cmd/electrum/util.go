package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	appconfig "github.com/vulpemventures/electrum-link/internal/app-config"
	"github.com/vulpemventures/electrum-link/internal/config"
	"github.com/vulpemventures/electrum-link/internal/core/application"
	"github.com/vulpemventures/electrum-link/internal/core/domain"
)

var colorRed = string("\033[31m")

func getAppConfig() (*appconfig.AppConfig, error) {
	var reg prometheus.Registerer
	if !config.GetBool(config.NoMetricsKey) {
		reg = prometheus.DefaultRegisterer
	}

	appCfg := &appconfig.AppConfig{
		Version:           version,
		Commit:            commit,
		Date:              date,
		ServerURL:         config.GetString(config.ServerUrlKey),
		Network:           config.GetString(config.NetworkKey),
		AddressType:       config.GetString(config.AddressTypeKey),
		ClientName:        config.GetString(config.ClientNameKey),
		ProtocolVersion:   config.GetProtocolVersion(),
		ConnectTimeout:    config.GetDuration(config.ConnectTimeoutKey),
		SocketKeepAlive:   config.GetBool(config.SocketKeepAliveKey),
		TorProxy:          config.GetString(config.TorProxyKey),
		KeepAliveInterval: config.GetDuration(config.KeepAliveIntervalKey),
		MaxRetry:          config.GetInt(config.MaxRetryKey),
		RetryBackoff:      config.GetDuration(config.RetryBackoffKey),
		GapLimit:          uint32(config.GetInt(config.GapLimitKey)),
		Debug:             config.GetBool(config.DebugKey),
		CacheType:         config.GetString(config.CacheTypeKey),
		CacheConfig:       filepath.Join(config.GetDatadir(), config.DbLocation),
		Registerer:        reg,
	}
	if err := appCfg.Validate(); err != nil {
		return nil, err
	}
	return appCfg, nil
}

// request sends a single message to a new worker and prints the response.
func request(msgType string, payload interface{}) error {
	appCfg, err := getAppConfig()
	if err != nil {
		return err
	}
	defer appCfg.Close()

	msg := application.Message{ID: 1, Type: msgType}
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		msg.Payload = buf
	}

	resp := appCfg.WorkerService().Handle(context.Background(), msg)
	if resp.Error != nil {
		printErr(resp.Error)
		return nil
	}

	return printJSON(resp.Payload)
}

func printJSON(v interface{}) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal response: %s", err)
	}
	fmt.Println(string(buf))
	return nil
}

func printErr(err *application.ResponseError) {
	msg := capitalize(err.Message)
	if err.Kind != "" {
		msg = fmt.Sprintf("%s: %s", err.Kind, msg)
	}
	fmt.Fprintf(os.Stderr, "%s%s\n", colorRed, msg)
}

func capitalize(s string) string {
	if len(s) <= 0 {
		return s
	}
	ss := strings.ToUpper(s[0:1])
	ss += s[1:]
	return ss
}

func formatVersion() string {
	return fmt.Sprintf(
		"\nVersion: %s\nCommit: %s\nDate: %s", version, commit, date,
	)
}

type notification struct {
	Type       string              `json:"type"`
	Descriptor string              `json:"descriptor,omitempty"`
	Address    string              `json:"address,omitempty"`
	Tx         *domain.Transaction `json:"tx,omitempty"`
	Block      *domain.BlockHeader `json:"block,omitempty"`
}

func toNotification(n domain.Notification) notification {
	return notification{
		Type:       n.Type.String(),
		Descriptor: n.Descriptor,
		Address:    n.Address,
		Tx:         n.Tx,
		Block:      n.Block,
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	buf, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return buf
}
