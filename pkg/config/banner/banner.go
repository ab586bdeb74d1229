package banner

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/config"
)

const banner = `
  ___ _          _   ___
 / __| |_  __ _| |_/ __|_  _ _ _  __
| (__| ' \/ _' |  _\__ \ || | ' \/ _|
 \___|_||_\__,_|\__|___/\_, |_||_\__|
                        |__/
`

// PrintWithEff writes the banner and a summary of the effective config.
func PrintWithEff(w io.Writer, eff config.EffectiveConfigResult, version string) {
	cfg := eff.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	src := eff.Source
	if src == "" {
		src = "defaults"
	}

	fmt.Fprint(w, banner)
	fmt.Fprintln(w, "== Config =====================================================")
	if cfg.Server.IsEnabled() {
		fmt.Fprintf(w, "Listen:   %s\n", eff.Addr)
	} else {
		fmt.Fprintln(w, "Listen:   disabled")
	}
	fmt.Fprintf(w, "Store:    %s (cache %s)\n", eff.DBPath, humanize.IBytes(uint64(cfg.Store.CacheSize.Int64())))
	if version != "" {
		fmt.Fprintf(w, "Version:  %s\n", version)
	}
	fmt.Fprintf(w, "Config:   %s\n", src)
	if eff.ConfigPath != "" {
		fmt.Fprintf(w, "File:     %s\n", eff.ConfigPath)
	}
	if len(eff.EnvUsed) > 0 {
		fmt.Fprintf(w, "Env:      %s\n", strings.Join(eff.EnvUsed, ", "))
	}

	fmt.Fprintln(w, "\n== Sync =======================================================")
	switch cfg.Remote.Driver {
	case config.DriverHTTP:
		fmt.Fprintf(w, "- Remote: http %s\n", cfg.Remote.BaseURL)
		if cfg.Remote.Token == "" {
			fmt.Fprintln(w, "- Token: MISSING (requests go out unauthenticated)")
		}
	case config.DriverRedis:
		fmt.Fprintf(w, "- Remote: redis %s db=%d\n", cfg.Remote.RedisAddr, cfg.Remote.RedisDB)
	default:
		fmt.Fprintln(w, "- Remote: in-memory (nothing leaves this process)")
	}
	if cfg.Store.SyncWritesEnabled() {
		fmt.Fprintln(w, "- Durability: fsync on every write")
	} else {
		fmt.Fprintln(w, "- Durability: sync_writes off (recent writes may be lost on power loss)")
	}
	fmt.Fprintf(w, "- Retry: %s..%s, %d attempts\n", cfg.Sync.RetryBase.Duration(), cfg.Sync.RetryMax.Duration(), cfg.Sync.RetryAttempts)
	fmt.Fprintf(w, "- Sweep: cron=%s\n", cfg.Sync.SweepCron)
	if cfg.User.ID == "" {
		fmt.Fprintln(w, "- User: not set (use CHATSYNC_USER_ID or user.id)")
	} else {
		fmt.Fprintf(w, "- User: %s\n", cfg.User.ID)
	}
	fmt.Fprintln(w)
}
