package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `listen_addr = ":6775"
root = "/srv/guppy"
admin_addr = "127.0.0.1:9180"
admin_token = ""
cors_origins = ["http://localhost:3000"]

chunk_size = 512
window = 4
max_body_bytes = 16777216

retransmit_interval = "500ms"
transfer_expiry = "6s"
tick_interval = "100ms"
`

const clientTemplate = `timeout = "6s"
request_retry = "1s"
ack_retry = "500ms"
tick_interval = "100ms"
reorder_slots = 8
max_redirects = 5
`
