package quota

import (
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/session-gateway/internal/utils"
)

// HandleDashboard serves the credential usage dashboard HTML page.
// Keys are always masked.
func (l *Ledger) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	creds, err := l.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("dashboard: list credentials")
		http.Error(w, "failed to list credentials", http.StatusInternalServerError)
		return
	}
	now := l.now()

	var totalUsage int64
	active := 0
	for _, c := range creds {
		totalUsage += c.Usage
		if c.Status == StatusActive && c.Valid(now) {
			active++
		}
	}

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="5">
<title>Session Gateway - Quota Dashboard</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: 'SF Mono', 'Fira Code', 'Cascadia Code', monospace; background: #0d1117; color: #c9d1d9; padding: 24px; }
  h1 { color: #58a6ff; font-size: 18px; margin-bottom: 16px; }
  .summary { display: flex; gap: 24px; margin-bottom: 24px; padding: 16px; background: #161b22; border: 1px solid #30363d; border-radius: 6px; }
  .stat-label { font-size: 11px; color: #8b949e; text-transform: uppercase; letter-spacing: 1px; }
  .stat-value { font-size: 24px; font-weight: bold; color: #f0f6fc; }
  table { width: 100%; border-collapse: collapse; background: #161b22; border: 1px solid #30363d; border-radius: 6px; overflow: hidden; }
  th { text-align: left; padding: 10px 14px; font-size: 11px; color: #8b949e; text-transform: uppercase; letter-spacing: 1px; background: #0d1117; border-bottom: 1px solid #30363d; }
  td { padding: 10px 14px; font-size: 13px; border-bottom: 1px solid #21262d; }
  tr:last-child td { border-bottom: none; }
  .key { color: #58a6ff; }
  .plus { color: #d2a8ff; }
  .bar-container { width: 100px; height: 8px; background: #21262d; border-radius: 4px; overflow: hidden; display: inline-block; vertical-align: middle; margin-right: 8px; }
  .bar { height: 100%; border-radius: 4px; }
  .bar-ok { background: #3fb950; }
  .bar-warn { background: #d29922; }
  .bar-danger { background: #f85149; }
  .empty { text-align: center; padding: 40px; color: #8b949e; }
  .footer { margin-top: 16px; font-size: 11px; color: #484f58; }
</style>
</head>
<body>
<h1>Session Gateway - Quota Dashboard</h1>
<div class="summary">`)
	writeStat(&b, "Credentials", fmt.Sprintf("%d", len(creds)))
	writeStat(&b, "Active", fmt.Sprintf("%d", active))
	writeStat(&b, "Total Requests", fmt.Sprintf("%d", totalUsage))
	b.WriteString("\n</div>\n")

	if len(creds) == 0 {
		b.WriteString(`<div class="empty">No credentials yet. Create one with "session-gateway keys add".</div>`)
	} else {
		b.WriteString(`<table>
<tr>
  <th>Key</th>
  <th>Tier</th>
  <th>Status</th>
  <th>Usage</th>
  <th>Expires</th>
</tr>
`)
		for _, c := range creds {
			status := string(c.Status)
			if c.Status == StatusActive && c.Expired(now) {
				status = string(StatusExpired)
			}
			fmt.Fprintf(&b, `<tr>
  <td class="key">%s</td>
  <td class="%s">%s</td>
  <td>%s</td>
  <td>%s</td>
  <td>%s</td>
</tr>
`, html.EscapeString(utils.MaskKey(c.Key)), c.Tier, c.Tier, status, usageCell(c), expiresCell(c, now))
		}
		b.WriteString(`</table>`)
	}

	b.WriteString(`
<div class="footer">Auto-refreshes every 5 seconds</div>
</body>
</html>`)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

func writeStat(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, `
  <div class="stat">
    <div class="stat-label">%s</div>
    <div class="stat-value">%s</div>
  </div>`, label, value)
}

func usageCell(c Credential) string {
	if c.Limit <= 0 {
		return fmt.Sprintf("%d / unlimited", c.Usage)
	}

	pct := float64(c.Usage) / float64(c.Limit) * 100
	if pct > 100 {
		pct = 100
	}
	barClass := "bar-ok"
	if pct > 80 {
		barClass = "bar-danger"
	} else if pct > 50 {
		barClass = "bar-warn"
	}
	return fmt.Sprintf(`<div class="bar-container"><div class="bar %s" style="width:%.0f%%"></div></div>%d / %d`,
		barClass, pct, c.Usage, c.Limit)
}

func expiresCell(c Credential, now time.Time) string {
	if c.ExpiresAt.IsZero() {
		if c.Status == StatusPending && c.ValidDays > 0 {
			return fmt.Sprintf("%dd after activation", c.ValidDays)
		}
		return "never"
	}
	left := c.ExpiresAt.Sub(now)
	switch {
	case left <= 0:
		return "expired"
	case left < 24*time.Hour:
		return fmt.Sprintf("in %dh", int(left.Hours()))
	default:
		return fmt.Sprintf("in %dd", int(left.Hours()/24))
	}
}
