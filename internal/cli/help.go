package cli

import (
	"fmt"
	"io"
)

func PrintExtendedHelp(w io.Writer) {
	fmt.Fprintln(w, "carewatch - appointment status monitor and medication reminders")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  carewatch [command] [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                                 Run the monitor, reminders and HTTP API (default)")
	fmt.Fprintln(w, "  status                                List appointments with their derived status")
	fmt.Fprintln(w, "  adherence -patient N                  Show a patient's medication adherence")
	fmt.Fprintln(w, "  take-dose -patient N -prescription M  Record a dose and show refreshed adherence")
	fmt.Fprintln(w, "  config [show|path]                    Print the effective configuration")
	fmt.Fprintln(w, "  version                               Print the version")
	fmt.Fprintln(w, "  help                                  Show this help")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags accepted by every command:")
	fmt.Fprintln(w, "  -config PATH   Path to config file")
	fmt.Fprintln(w, "  -data DIR      Path to data directory")
	fmt.Fprintln(w, "  -json          Print JSON even on a terminal")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  CAREWATCH_*            Override any config key, e.g. CAREWATCH_BACKEND_BASE_URL")
	fmt.Fprintln(w, "  CAREWATCH_TOKEN        Backend bearer token")
	fmt.Fprintln(w, "  TELEGRAM_BOT_TOKEN     Telegram notifications")
	fmt.Fprintln(w, "  DISCORD_BOT_TOKEN      Discord notifications")
}

func PrintConfigHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: carewatch config [show|path]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  show   Print the effective configuration with secrets masked (default)")
	fmt.Fprintln(w, "  path   Print the config file location")
}
