package ui

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"
	"github.com/syncview/syncview-agent/internal/export"
	"github.com/syncview/syncview-agent/internal/marker"
	"github.com/syncview/syncview-agent/internal/workspace"
)

// refreshInterval is how often the menu items are re-read from the
// managers while the tray is open.
const refreshInterval = 2 * time.Second

type Tray struct {
	markers   *marker.Manager
	workspace *workspace.Manager
	engine    *export.Engine
	logger    *slog.Logger

	statusItem  *systray.MenuItem
	markersItem *systray.MenuItem
	slotsItem   *systray.MenuItem
	cancelItem  *systray.MenuItem

	mu sync.Mutex

	onQuit func()
}

type TrayConfig struct {
	Markers   *marker.Manager
	Workspace *workspace.Manager
	Engine    *export.Engine
	Logger    *slog.Logger
	OnQuit    func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		markers:   cfg.Markers,
		workspace: cfg.Workspace,
		engine:    cfg.Engine,
		logger:    cfg.Logger,
		onQuit:    cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(trayIcon())
	systray.SetTitle("SyncView")
	systray.SetTooltip("SyncView Agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current agent status")
	t.statusItem.Disable()

	t.markersItem = systray.AddMenuItem("Markers: 0", "Markers in the current session")
	t.markersItem.Disable()

	t.slotsItem = systray.AddMenuItem(fmt.Sprintf("Slots: 0/%d", marker.NumSlots), "Loaded video slots")
	t.slotsItem.Disable()

	systray.AddSeparator()

	t.cancelItem = systray.AddMenuItem("Cancel Export", "Cancel the running export")
	t.cancelItem.Disable()

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit SyncView Agent")

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.refresh()
			case <-t.cancelItem.ClickedCh:
				t.handleCancel()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.refresh()
	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

// refresh re-reads agent state into the disabled info items.
func (t *Tray) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if status, ok := t.engine.Active(); ok {
		t.statusItem.SetTitle(fmt.Sprintf("Status: Exporting %d/%d", status.Done, status.Total))
		t.cancelItem.Enable()
	} else {
		t.statusItem.SetTitle("Status: Idle")
		t.cancelItem.Disable()
	}

	t.markersItem.SetTitle(fmt.Sprintf("Markers: %d", t.markers.Count()))
	t.slotsItem.SetTitle(fmt.Sprintf("Slots: %d/%d", len(t.workspace.LoadedPaths()), marker.NumSlots))
}

func (t *Tray) handleCancel() {
	if t.engine.Cancel() {
		t.logger.Info("export cancelled from tray")
		t.refresh()
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}
