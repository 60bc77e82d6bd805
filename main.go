package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to config file")
	bindFlag := flag.String("bind", "", "Override bind address (e.g. 0.0.0.0 for local testing)")
	portFlag := flag.Int("port", 0, "Override port")
	updateFlag := flag.Bool("update", false, "Self-update to the latest release and exit")
	flag.Parse()

	if *updateFlag {
		if err := selfUpdate(); err != nil {
			log.Fatalf("Self-update failed: %v", err)
		}
		log.Println("Updated to the latest release")
		return
	}

	// .env values become OPSDASH_* overrides below
	_ = godotenv.Load()

	// Determine config path
	cfgPath := *configPath
	if cfgPath == "" {
		home, _ := os.UserHomeDir()
		cfgPath = filepath.Join(home, ".opsdash", "agent.yaml")
	}

	config, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.applyEnv()

	// Apply flag overrides
	if *bindFlag != "" {
		config.Bind = *bindFlag
	}
	if *portFlag != 0 {
		config.Port = *portFlag
	}

	dataDir := config.GetDataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		log.Fatalf("Failed to create data dir: %v", err)
	}

	// One agent per data directory
	lock := flock.New(filepath.Join(dataDir, "agent.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("Failed to acquire instance lock: %v", err)
	}
	if !locked {
		log.Fatalf("Another agent already holds %s", lock.Path())
	}
	defer lock.Unlock()

	// Determine bind address
	bindAddr := config.Bind
	if bindAddr == "" {
		ip, err := getTailscaleIP()
		if err != nil {
			log.Printf("WARNING: Could not detect Tailscale IP: %v", err)
			log.Printf("Binding to 127.0.0.1 (local only). Use --bind to override.")
			bindAddr = "127.0.0.1"
		} else {
			bindAddr = ip
		}
	}

	listenAddr := fmt.Sprintf("%s:%d", bindAddr, config.Port)

	// Handle registry: the app registers its own long-lived resources so the
	// dashboard's handle counts reflect reality.
	registry := newHandleRegistry()

	// Core sampler
	monitor := newMonitor(config.MonitorConfig(), hostMemoryReader{}, registry)
	releaseTicker := registry.Register(HandleTimer)

	// Snapshot history store (optional: sampling continues without it)
	history, err := openHistoryStore(filepath.Join(dataDir, "history.db"), config.GetHistoryRetention())
	if err != nil {
		log.Printf("WARNING: history store disabled: %v", err)
		history = nil
	} else {
		history.Start(0)
	}

	// Persisted alert log
	alertLog := newAlertLogWriter(filepath.Join(dataDir, "alerts.log"), config.GetAlertDumpInterval(), monitor.RecentAlerts)
	if err := alertLog.Start(); err != nil {
		log.Fatalf("Failed to start alert log: %v", err)
	}

	// Hot-reload thresholds on config edits
	watcher, err := watchConfig(cfgPath, monitor)
	var releaseWatcher func()
	if err != nil {
		log.Printf("WARNING: config watch disabled: %v", err)
	} else {
		releaseWatcher = registry.Register(HandleObserver)
	}

	// Create server, then start sampling: the first tick should already have
	// its broadcast and history wiring in place.
	srv := newServer(config, monitor, registry, history, alertLog)
	monitor.Start()

	// Start HTTP server
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", listenAddr, err)
	}

	log.Printf("opsdash-agent %s listening on %s", version, listenAddr)
	if config.Token != "" {
		log.Printf("Auth token configured")
	} else {
		log.Printf("WARNING: No auth token configured")
	}
	log.Printf("Data dir: %s", dataDir)
	log.Printf("Sampling every %s, window %d", config.MonitorConfig().SampleInterval, config.WindowSize)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		releaseSig := registry.Register(HandleEventListener)
		<-sigCh
		log.Println("Shutting down...")
		releaseSig()
		monitor.Dispose()
		releaseTicker()
		if watcher != nil {
			watcher.Close()
			releaseWatcher()
		}
		alertLog.Stop()
		if history != nil {
			history.Stop()
		}
		lock.Unlock()
		listener.Close()
		os.Exit(0)
	}()

	if err := http.Serve(listener, srv.Handler()); err != nil {
		log.Fatalf("HTTP serve: %v", err)
	}
}

func getTailscaleIP() (string, error) {
	// Try `tailscale ip -4`
	cmd := exec.Command("tailscale", "ip", "-4")
	out, err := cmd.Output()
	if err == nil {
		ip := strings.TrimSpace(string(out))
		if ip != "" && strings.HasPrefix(ip, "100.") {
			return ip, nil
		}
	}

	// Fallback: look through network interfaces for 100.x.x.x
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("listing interfaces: %w", err)
	}

	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && ip.To4() != nil && strings.HasPrefix(ip.String(), "100.") {
				return ip.String(), nil
			}
		}
	}

	return "", fmt.Errorf("no Tailscale interface found")
}
