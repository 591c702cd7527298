package config

import (
	"fmt"
	"strings"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

// NormalizeAndValidate returns a normalized copy plus everything a UI should
// surface before the config is saved or a run starts.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	var out = cfg
	var res Validation

	trimList := func(xs []string) []string {
		seen := map[string]bool{}
		var ys []string
		for _, x := range xs {
			x = strings.TrimSpace(x)
			if x == "" {
				continue
			}
			key := strings.ToLower(x)
			if seen[key] {
				continue
			}
			seen[key] = true
			ys = append(ys, x)
		}
		return ys
	}

	out.Resume.Skills = trimList(out.Resume.Skills)
	out.Portal.BaseURL = strings.TrimRight(strings.TrimSpace(out.Portal.BaseURL), "/")

	// ---- Validation rules ----

	if strings.TrimSpace(out.Portal.BaseURL) == "" {
		res.addErr("portal.base_url is required")
	}
	if strings.TrimSpace(out.Portal.Username) == "" {
		res.addErr("portal.username is required (password lives in the keychain)")
	}
	if out.Portal.MaxPages <= 0 {
		res.addErr("portal.max_pages must be > 0")
	} else if out.Portal.MaxPages > 20 {
		res.addWarn("portal.max_pages is high (%d); the portal rarely has that many pages.", out.Portal.MaxPages)
	}
	if out.Portal.RequestsPerSec <= 0 {
		res.addErr("portal.requests_per_sec must be > 0")
	} else if out.Portal.RequestsPerSec > 2 {
		res.addWarn("portal.requests_per_sec is aggressive (%.1f) and may trip anti-bot checks.", out.Portal.RequestsPerSec)
	}
	if out.Portal.FetchWorkers <= 0 {
		out.Portal.FetchWorkers = 3
	}

	if len(out.Resume.Skills) == 0 {
		res.addWarn("resume.skills is empty; every posting will score near zero.")
	}

	if out.Matching.Threshold < 0 || out.Matching.Threshold > 100 {
		res.addErr("matching.threshold must be 0..100")
	}
	if out.Matching.SkillsWeight < 0 || out.Matching.SeniorityWeight < 0 {
		res.addErr("matching weights must be >= 0")
	}
	if out.Matching.SkillsWeight+out.Matching.SeniorityWeight == 0 {
		res.addErr("matching weights cannot both be zero")
	}

	if out.Dispatch.DailyLimit <= 0 {
		res.addErr("dispatch.daily_limit must be > 0")
	} else if out.Dispatch.DailyLimit > 50 {
		res.addWarn("dispatch.daily_limit of %d looks like spam territory.", out.Dispatch.DailyLimit)
	}
	if out.Dispatch.MinPauseSeconds < 0 || out.Dispatch.MaxPauseSeconds < 0 {
		res.addErr("dispatch pauses must be >= 0")
	}
	if out.Dispatch.MinPauseSeconds > out.Dispatch.MaxPauseSeconds {
		res.addErr("dispatch.min_pause_seconds must be <= max_pause_seconds")
	}
	if out.Dispatch.MaxPauseSeconds > 0 && out.Dispatch.MinPauseSeconds < 5 {
		res.addWarn("dispatch.min_pause_seconds under 5s barely looks human.")
	}

	if strings.TrimSpace(out.SMTP.Host) == "" {
		res.addErr("smtp.host is required")
	}
	if out.SMTP.Port == 0 {
		res.addErr("smtp.port is required")
	}
	if strings.TrimSpace(out.SMTP.Username) == "" {
		res.addErr("smtp.username is required (password lives in the keychain)")
	}
	if strings.TrimSpace(out.SMTP.From) == "" {
		out.SMTP.From = out.SMTP.Username
	}
	if out.SMTP.UseTLS && out.SMTP.UseSSL {
		res.addErr("smtp.use_tls and smtp.use_ssl cannot both be set")
	}

	if out.Automation.Enabled && out.Automation.IntervalSeconds <= 0 {
		res.addErr("automation.interval_seconds must be > 0 when automation is enabled")
	} else if out.Automation.Enabled && out.Automation.IntervalSeconds < 600 {
		res.addWarn("automation.interval_seconds is very low (%d); frequent runs increase detection risk.", out.Automation.IntervalSeconds)
	}

	return out, res
}
