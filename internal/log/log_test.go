package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSetOutput_ComponentField(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(NewJSONLogger(&buf, "debug"))
	defer SetOutput(NewConsoleLogger(&bytes.Buffer{}, "info"))

	Relay.Info().Str("address", "xd7").Msg("subscribed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "relay" {
		t.Errorf("component = %v, want relay", entry["component"])
	}
	if entry["address"] != "xd7" {
		t.Errorf("address = %v, want xd7", entry["address"])
	}
}

func TestParseLevel_DefaultInfo(t *testing.T) {
	if parseLevel("nonsense").String() != "info" {
		t.Error("unknown level should default to info")
	}
	if parseLevel("warn").String() != "warn" {
		t.Error("warn level not parsed")
	}
}

func TestParseLevel_Names(t *testing.T) {
	for in, want := range map[string]string{
		"TRACE":  "trace",
		" debug": "debug",
		"":       "info",
		"error":  "error",
	} {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestInit_RotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wallet.log")
	if err := Init("info", true, path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Wallet.Info().Msg("opened")

	var data []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, _ = os.ReadFile(path)
		if strings.Contains(string(data), `"component":"wallet"`) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	SetOutput(NewConsoleLogger(&bytes.Buffer{}, "info"))

	if !strings.Contains(string(data), `"component":"wallet"`) {
		t.Errorf("log file = %q, want a wallet entry", data)
	}
}
