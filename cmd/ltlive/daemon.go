package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

// serviceFile describes the per-user service definition for one init system.
type serviceFile struct {
	path     string
	template string
	vars     map[string]string
	start    []string
}

func serviceFor(goos, home, execPath, cfgPath string) (serviceFile, error) {
	vars := map[string]string{
		"EXEC":    execPath,
		"CONFIG":  cfgPath,
		"WORKDIR": filepath.Dir(cfgPath),
	}
	switch goos {
	case "darwin":
		path := filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
		logDir := filepath.Join(home, ".ltlive", "logs")
		vars["LABEL"] = launchdLabel
		vars["LOG"] = filepath.Join(logDir, "ltlive.log")
		vars["ERR_LOG"] = filepath.Join(logDir, "ltlive-error.log")
		return serviceFile{
			path:     path,
			template: launchdTemplate,
			vars:     vars,
			start:    []string{"launchctl load " + path, "launchctl unload " + path},
		}, nil
	case "linux":
		return serviceFile{
			path:     filepath.Join(home, ".config", "systemd", "user", systemdUnit),
			template: systemdTemplate,
			vars:     vars,
			start:    []string{"systemctl --user enable --now ltlive", "systemctl --user stop ltlive"},
		}, nil
	default:
		return serviceFile{}, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install ltlive serve as a user service (launchd/systemd)",
		Long:  "Generates and installs a service file that runs 'ltlive serve' in the directory holding the config, restarting it on failure.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, err := filepath.Abs(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("resolve config path: %w", err)
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			svc, err := serviceFor(runtime.GOOS, home, execPath, cfgPath)
			if err != nil {
				return err
			}
			if err := svc.install(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon installed: %s\n", svc.path)
			fmt.Fprintf(out, "To start: %s\n", svc.start[0])
			fmt.Fprintf(out, "To stop:  %s\n", svc.start[1])
			return nil
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the ltlive user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			svc, err := serviceFor(runtime.GOOS, home, "", "")
			if err != nil {
				return err
			}
			if err := os.Remove(svc.path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon uninstalled: %s\n", svc.path)
			return nil
		},
	}
}

const (
	launchdLabel = "com.ltlive.serve"
	systemdUnit  = "ltlive.service"
)

// install writes the rendered unit, creating its directory and the log
// directory when the unit names one.
func (s serviceFile) install() error {
	dirs := []string{filepath.Dir(s.path)}
	if log, ok := s.vars["LOG"]; ok {
		dirs = append(dirs, filepath.Dir(log))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return os.WriteFile(s.path, []byte(renderUnit(s.template, s.vars)), 0o644)
}

// renderUnit fills {{KEY}} placeholders in a service template.
func renderUnit(tmpl string, vars map[string]string) string {
	for k, v := range vars {
		tmpl = strings.ReplaceAll(tmpl, "{{"+k+"}}", v)
	}
	return tmpl
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>WorkingDirectory</key>
    <string>{{WORKDIR}}</string>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=ltlive lightning talk control room bot
After=network-online.target

[Service]
Type=simple
WorkingDirectory={{WORKDIR}}
ExecStart={{EXEC}} serve --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
