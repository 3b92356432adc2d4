package config

import (
	"time"

	"github.com/spf13/viper"
)

// ApplyOverrides copies values explicitly set through flags or SYNCWARDEN_*
// environment variables onto cfg. Unset keys leave the file value alone.
func (c *Config) ApplyOverrides(v *viper.Viper) {
	if v == nil {
		return
	}
	if v.IsSet("log_level") && v.GetString("log_level") != "" {
		c.LogLevel = v.GetString("log_level")
	}
	if v.IsSet("executable_path") && v.GetString("executable_path") != "" {
		c.ExecutablePath = v.GetString("executable_path")
	}
	if v.IsSet("closure_policy") && v.GetString("closure_policy") != "" {
		c.ClosurePolicy = ClosurePolicy(v.GetString("closure_policy"))
	}
	if v.IsSet("auto_launch") {
		c.AutoLaunch = v.GetBool("auto_launch")
	}
	if v.IsSet("poll_interval") {
		if d := v.GetDuration("poll_interval"); d > 0 {
			c.PollInterval = Duration(d)
		}
	}
	if v.IsSet("control.listen") {
		c.Control.Listen = v.GetString("control.listen")
	}
	if v.IsSet("control.api_key") && v.GetString("control.api_key") != "" {
		c.Control.APIKey = v.GetString("control.api_key")
	}
	if v.IsSet("tracing.enabled") {
		c.Tracing.Enabled = v.GetBool("tracing.enabled")
	}
	if v.IsSet("tracing.endpoint") && v.GetString("tracing.endpoint") != "" {
		c.Tracing.Endpoint = v.GetString("tracing.endpoint")
	}
	c.Normalize()
}

// PollEvery returns the consumer poll interval as a time.Duration.
func (c *Config) PollEvery() time.Duration { return c.PollInterval.Std() }
