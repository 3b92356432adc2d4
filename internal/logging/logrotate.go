package logging

import "fmt"

// GenerateLogrotateConfig creates a logrotate configuration for the log directory
func GenerateLogrotateConfig(logDir string) string {
	return fmt.Sprintf(`# Logrotate configuration for syncwarden
# Install: sudo cp this file to /etc/logrotate.d/syncwarden

%s/*.log {
    weekly
    rotate 8
    compress
    delaycompress
    missingok
    notifempty
    copytruncate
}
`, logDir)
}
