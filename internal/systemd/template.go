package systemd

// DaemonTemplate returns the systemd unit for holdfast.service. The unit runs
// the decision daemon as an unprivileged user with write access limited to
// its state and log directories.
func DaemonTemplate() string {
	return `[Unit]
Description=Holdfast access decision daemon
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User=holdfast
Group=holdfast
ExecStart=/usr/local/bin/holdfast serve --config /etc/holdfast/config.yaml
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=true
ReadWritePaths=/var/lib/holdfast /var/log/holdfast
ProtectKernelTunables=true
RestrictNamespaces=true

[Install]
WantedBy=multi-user.target
`
}
