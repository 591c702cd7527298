package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		Port    int    `yaml:"port"`
		DataDir string `yaml:"data_dir"`
		UserID  string `yaml:"user_id"`
	} `yaml:"app"`

	Portal struct {
		BaseURL        string  `yaml:"base_url"`
		LoginPath      string  `yaml:"login_path"`
		BoardPath      string  `yaml:"board_path"` // printf pattern, page index substituted
		DetailPattern  string  `yaml:"detail_pattern"`
		Username       string  `yaml:"username"`
		MaxPages       int     `yaml:"max_pages"`
		RequestsPerSec float64 `yaml:"requests_per_sec"`
		FetchWorkers   int     `yaml:"fetch_workers"`
	} `yaml:"portal"`

	Resume struct {
		Skills     []string `yaml:"skills"`
		Highlights string   `yaml:"highlights"`
		File       string   `yaml:"file"`
	} `yaml:"resume"`

	Matching struct {
		Threshold       int `yaml:"threshold"`
		SkillsWeight    int `yaml:"skills_weight"`
		SeniorityWeight int `yaml:"seniority_weight"`
	} `yaml:"matching"`

	Dispatch struct {
		DailyLimit      int  `yaml:"daily_limit"`
		MinPauseSeconds int  `yaml:"min_pause_seconds"`
		MaxPauseSeconds int  `yaml:"max_pause_seconds"`
		DryRun          bool `yaml:"dry_run"`
	} `yaml:"dispatch"`

	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		UseTLS   bool   `yaml:"use_tls"` // STARTTLS after connect
		UseSSL   bool   `yaml:"use_ssl"` // TLS on connect
		Username string `yaml:"username"`
		From     string `yaml:"from"`
		FromName string `yaml:"from_name"`
	} `yaml:"smtp"`

	Automation struct {
		Enabled         bool `yaml:"enabled"`
		IntervalSeconds int  `yaml:"interval_seconds"`
	} `yaml:"automation"`
}

func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	err = yaml.Unmarshal(b, &cfg)
	return cfg, err
}

// UserID falls back to the portal username so quota accounting has a stable
// key even on configs written before user_id existed.
func (c Config) UserID() string {
	if c.App.UserID != "" {
		return c.App.UserID
	}
	return c.Portal.Username
}
