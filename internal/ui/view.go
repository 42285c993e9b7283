// Package ui renders the terminal front end. The View owns the tview
// widget tree and a set of listener goroutines that repaint panels as the
// model publishes; the Controller turns keys into engine operations. All
// session logic stays in the engine, the view only formats what it is told.
package ui

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/openlift/cable-coach/internal/machine"
	"github.com/openlift/cable-coach/internal/prefs"
	"github.com/openlift/cable-coach/internal/routine"
	"github.com/openlift/cable-coach/internal/session"
	"github.com/openlift/cable-coach/internal/syncutil"
)

const (
	pageRoutines  = "routines"
	pageDashboard = "dashboard"

	logResizePollInterval = 100 * time.Millisecond
	autoStopBarWidth      = 20
)

const keyHelp = "1 routines  2 dashboard  enter start  j just lift  space pause  " +
	"s skip  r retry  x stop  n/p move  +/- weight  u unit  a autoplay  d detector  esc quit"

// View is the terminal UI. Panel updates arrive on model streams from the
// engine goroutine; tview widgets lock internally, so updates go straight
// to SetText followed by a Draw.
type View struct {
	logger   *log.Logger
	model    *session.Model
	ctrl     *Controller
	prefsMgr *prefs.Manager

	app   *tview.Application
	pages *tview.Pages

	routineList    *tview.List
	routineDetails *tview.TextView
	sessionPanel   *tview.TextView
	repsPanel      *tview.TextView
	telemetryPanel *tview.TextView
	statusBar      *tview.TextView
	logView        *tview.TextView
	mainFlex       *tview.Flex

	// Last value of each stream, so panels fed by more than one stream can
	// repaint from a consistent snapshot.
	mu           sync.Mutex
	lastState    session.SessionState
	lastConn     session.ConnectionState
	lastReps     session.RepCount
	lastAutoStop session.AutoStopUiState
	lastZone     session.Zone
	lastSample   machine.TelemetrySample

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewView builds the widget tree and starts the model listeners. Call Run
// to hand the terminal over and Shutdown after Run returns.
func NewView(model *session.Model, ctrl *Controller, prefsMgr *prefs.Manager, logger *log.Logger) *View {
	if model == nil {
		panic("View: model cannot be nil")
	}
	if ctrl == nil {
		panic("View: ctrl cannot be nil")
	}
	if prefsMgr == nil {
		panic("View: prefsMgr cannot be nil")
	}
	if logger == nil {
		panic("View: logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		logger:     logger,
		model:      model,
		ctrl:       ctrl,
		prefsMgr:   prefsMgr,
		app:        tview.NewApplication(),
		ctx:        ctx,
		cancelFunc: cancel,
	}

	v.buildWidgets()
	v.setupKeyboardHandlers()
	v.renderAll()
	v.setupEventListeners()
	v.monitorLogResize()

	return v
}

// Run hands the terminal to tview and blocks until the application stops.
func (v *View) Run() error {
	v.logger.Println("View: starting terminal UI")
	return v.app.SetRoot(v.mainFlex, true).SetFocus(v.routineList).Run()
}

// Stop ends the tview event loop. Safe to call more than once.
func (v *View) Stop() {
	v.app.Stop()
}

// Shutdown stops the listener goroutines and waits for them to exit.
func (v *View) Shutdown() {
	v.logger.Println("View: shutting down")
	v.cancelFunc()
	v.wg.Wait()
	v.logger.Println("View: shutdown complete")
}

func (v *View) buildWidgets() {
	v.routineList = tview.NewList().ShowSecondaryText(true)
	v.routineList.SetBorder(true).SetTitle(" Routines ")
	for _, r := range v.ctrl.Routines() {
		v.routineList.AddItem(r.Name, routineSummary(r), 0, nil)
	}
	v.routineList.SetChangedFunc(func(index int, _, _ string, _ rune) {
		v.showRoutineDetails(index)
	})
	v.routineList.SetSelectedFunc(func(index int, _, _ string, _ rune) {
		v.ctrl.OnRoutineSelected(index)
		v.pages.SwitchToPage(pageDashboard)
	})

	v.routineDetails = tview.NewTextView().SetDynamicColors(true)
	v.routineDetails.SetBorder(true).SetTitle(" Details ")

	v.sessionPanel = tview.NewTextView().SetDynamicColors(true)
	v.sessionPanel.SetBorder(true).SetTitle(" Session ")

	v.repsPanel = tview.NewTextView().SetDynamicColors(true)
	v.repsPanel.SetBorder(true).SetTitle(" Reps ")

	v.telemetryPanel = tview.NewTextView().SetDynamicColors(true)
	v.telemetryPanel.SetBorder(true).SetTitle(" Cables ")

	v.statusBar = tview.NewTextView().SetDynamicColors(true)

	v.logView = tview.NewTextView().SetDynamicColors(false)
	v.logView.SetBorder(true).SetTitle(" Log ")

	routinesFlex := tview.NewFlex().
		AddItem(v.routineList, 0, 1, true).
		AddItem(v.routineDetails, 0, 2, false)

	dashboardFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(v.sessionPanel, 0, 2, false).
		AddItem(v.repsPanel, 0, 1, false).
		AddItem(v.telemetryPanel, 0, 1, false)

	v.pages = tview.NewPages().
		AddPage(pageRoutines, routinesFlex, true, true).
		AddPage(pageDashboard, dashboardFlex, true, false)

	leftFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(v.pages, 0, 1, true).
		AddItem(v.statusBar, 2, 0, false)

	v.mainFlex = tview.NewFlex().
		AddItem(leftFlex, 0, 2, true).
		AddItem(v.logView, 0, 1, false)

	if v.routineList.GetItemCount() > 0 {
		v.showRoutineDetails(0)
	}
}

func (v *View) setupKeyboardHandlers() {
	v.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape:
			v.ctrl.OnEscapeKey()
			return nil
		case tcell.KeyTab:
			if v.app.GetFocus() == v.routineList {
				v.app.SetFocus(v.logView)
			} else {
				v.app.SetFocus(v.routineList)
			}
			return nil
		}

		switch event.Rune() {
		case '1':
			v.pages.SwitchToPage(pageRoutines)
			v.app.SetFocus(v.routineList)
			return nil
		case '2':
			v.pages.SwitchToPage(pageDashboard)
			return nil
		case 'j':
			v.ctrl.OnJustLift()
			v.pages.SwitchToPage(pageDashboard)
			return nil
		case ' ':
			v.ctrl.OnTogglePause()
			return nil
		case 's':
			v.ctrl.OnSkip()
			return nil
		case 'r':
			v.ctrl.OnRetry()
			return nil
		case 'x':
			v.ctrl.OnStop()
			return nil
		case 'n':
			v.ctrl.OnNextExercise()
			return nil
		case 'p':
			v.ctrl.OnPreviousExercise()
			return nil
		case '+', '=':
			v.ctrl.OnWeightUp()
			return nil
		case '-', '_':
			v.ctrl.OnWeightDown()
			return nil
		case 'u':
			v.ctrl.OnToggleWeightUnit()
			v.renderAll()
			return nil
		case 'a':
			v.ctrl.OnToggleAutoplay()
			return nil
		case 'd':
			v.ctrl.OnToggleStallDetection()
			return nil
		}
		return event
	})
}

// setupEventListeners starts one goroutine per model stream. Channels are
// buffered and delivery is lossy; every repaint reads the cached latest
// values, so a dropped notification only delays the paint until the next.
func (v *View) setupEventListeners() {
	listen(v, v.model.ListenToSessionState, 8, func(st session.SessionState) {
		v.mu.Lock()
		wasIdle := v.lastState.Phase == session.PhaseIdle
		v.lastState = st
		v.mu.Unlock()
		v.renderSessionPanel()
		v.renderRepsPanel()
		if wasIdle && st.Phase != session.PhaseIdle {
			v.pages.SwitchToPage(pageDashboard)
		}
	})
	listen(v, v.model.ListenToRepCount, 8, func(rc session.RepCount) {
		v.mu.Lock()
		v.lastReps = rc
		v.mu.Unlock()
		v.renderRepsPanel()
	})
	listen(v, v.model.ListenToAutoStop, 8, func(as session.AutoStopUiState) {
		v.mu.Lock()
		v.lastAutoStop = as
		v.mu.Unlock()
		v.renderRepsPanel()
	})
	listen(v, v.model.ListenToTelemetry, 8, func(sample machine.TelemetrySample) {
		v.mu.Lock()
		v.lastSample = sample
		v.mu.Unlock()
		v.renderTelemetryPanel()
	})
	listen(v, v.model.ListenToZone, 8, func(z session.Zone) {
		v.mu.Lock()
		v.lastZone = z
		v.mu.Unlock()
		v.renderTelemetryPanel()
	})
	listen(v, v.model.ListenToConnection, 4, func(cs session.ConnectionState) {
		v.mu.Lock()
		v.lastConn = cs
		v.mu.Unlock()
		v.renderSessionPanel()
	})
	listen(v, v.model.ListenToStatus, 8, func(msg string) {
		v.renderStatusBar(msg)
	})
	listen(v, v.model.ListenToLog, 32, func(string) {
		v.refreshLog()
	})
	listen(v, v.model.ListenToCloseApplication, 1, func(struct{}) {
		v.logger.Println("View: close requested, stopping UI")
		v.app.Stop()
	})
}

// listen subscribes ch to a model stream and repaints via update until the
// view shuts down or the stream closes.
func listen[T any](v *View, subscribe func(chan<- T) func(), buf int, update func(T)) {
	ch := make(chan T, buf)
	unregister := subscribe(ch)
	v.wg.Add(1)
	syncutil.Go(v.logger, func() {
		defer v.wg.Done()
		defer unregister()
		for {
			select {
			case <-v.ctx.Done():
				return
			case value, ok := <-ch:
				if !ok {
					return
				}
				update(value)
				v.app.Draw()
			}
		}
	})
}

// monitorLogResize keeps the log tail matched to the pane height, which is
// unknown until tview lays the screen out and changes when the terminal
// resizes.
func (v *View) monitorLogResize() {
	v.wg.Add(1)
	syncutil.Go(v.logger, func() {
		defer v.wg.Done()
		ticker := time.NewTicker(logResizePollInterval)
		defer ticker.Stop()
		lastHeight := 0
		for {
			select {
			case <-v.ctx.Done():
				return
			case <-ticker.C:
				_, _, _, height := v.logView.GetInnerRect()
				if height != lastHeight {
					lastHeight = height
					v.refreshLog()
					v.app.Draw()
				}
			}
		}
	})
}

func (v *View) renderAll() {
	v.mu.Lock()
	v.lastState = v.model.GetSessionState()
	v.lastConn = v.model.GetConnection()
	v.lastReps = v.model.GetRepCount()
	v.lastAutoStop = v.model.GetAutoStop()
	v.lastZone = v.model.GetZone()
	v.lastSample = v.model.GetTelemetry()
	v.mu.Unlock()
	v.renderSessionPanel()
	v.renderRepsPanel()
	v.renderTelemetryPanel()
	v.renderStatusBar(v.model.GetStatus())
	v.refreshLog()
}

func (v *View) renderSessionPanel() {
	v.mu.Lock()
	st := v.lastState
	conn := v.lastConn
	v.mu.Unlock()

	var b strings.Builder
	if conn.Connected {
		fmt.Fprintf(&b, "Link: %s (%s) [green]connected[white]\n\n", conn.LinkName, conn.Address)
	} else {
		b.WriteString("Link: [red]disconnected[white]\n\n")
	}

	switch st.Phase {
	case session.PhaseIdle:
		b.WriteString("No session.\n\nPress [yellow]1[white] to pick a routine or [yellow]j[white] to just lift.")
	case session.PhaseInitializing:
		fmt.Fprintf(&b, "[yellow]%s[white]\nLoading %s on the machine", v.exerciseLine(st), v.formatWeight(st.WeightKg))
	case session.PhaseCountdown:
		fmt.Fprintf(&b, "[yellow]%s[white]\nMode: %s   Weight: %s\n\nStarting in [yellow]%d[white]s, press s to skip",
			v.exerciseLine(st), st.Mode, v.formatWeight(st.WeightKg), st.SecondsRemaining)
	case session.PhaseActive:
		fmt.Fprintf(&b, "[yellow]%s[white]\nMode: %s   Weight: %s",
			v.exerciseLine(st), st.Mode, v.formatWeight(st.WeightKg))
		if st.SecondsRemaining > 0 {
			fmt.Fprintf(&b, "\n\n[green]%s remaining[white]", formatDurationMMSS(st.SecondsRemaining))
		}
	case session.PhasePaused:
		fmt.Fprintf(&b, "[yellow]%s[white]\nMode: %s   Weight: %s\n\n[red]PAUSED[white], press space to resume",
			v.exerciseLine(st), st.Mode, v.formatWeight(st.WeightKg))
	case session.PhaseResting:
		fmt.Fprintf(&b, "Resting: [yellow]%s[white]", formatDurationMMSS(st.SecondsRemaining))
		if st.NextLabel != "" {
			fmt.Fprintf(&b, "\nNext: %s", st.NextLabel)
		}
		if st.SupersetChange {
			b.WriteString("\n[teal]superset, keep moving[white]")
		}
	case session.PhaseSetSummary:
		if s := st.Summary; s != nil {
			fmt.Fprintf(&b, "[green]Set done:[white] %s\n%d working reps", s.ExerciseName, s.WorkingReps)
			if s.WarmupReps > 0 {
				fmt.Fprintf(&b, " after %d warmup", s.WarmupReps)
			}
			fmt.Fprintf(&b, "\n%s at %s (%s)", formatDurationMMSS(int(s.Duration.Seconds())), v.formatWeight(s.WeightKg), s.Reason)
		}
		if st.SecondsRemaining > 0 {
			fmt.Fprintf(&b, "\n\nContinuing in %ds, press s to continue now", st.SecondsRemaining)
		} else {
			b.WriteString("\n\nPress s to continue")
		}
	case session.PhaseCompleted:
		b.WriteString("[green]Session complete.[white]\n\nPress x to return, 1 for routines.")
	}

	v.sessionPanel.SetText(b.String())
}

func (v *View) exerciseLine(st session.SessionState) string {
	if st.TotalSets > 1 {
		return fmt.Sprintf("%s (set %d of %d)", st.ExerciseName, st.SetIndex+1, st.TotalSets)
	}
	return st.ExerciseName
}

func (v *View) renderRepsPanel() {
	v.mu.Lock()
	rc := v.lastReps
	as := v.lastAutoStop
	phase := v.lastState.Phase
	v.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Warmup: %d   Working: [yellow]%d[white]   Total: %d", rc.WarmupReps, rc.WorkingReps, rc.TotalReps)
	if rc.IsWarmupComplete && rc.WarmupReps > 0 {
		b.WriteString("   [green]warmup done[white]")
	}
	if as.IsActive && (phase == session.PhaseActive || phase == session.PhasePaused) {
		filled := int(as.Progress * autoStopBarWidth)
		if filled > autoStopBarWidth {
			filled = autoStopBarWidth
		}
		bar := strings.Repeat("#", filled) + strings.Repeat(".", autoStopBarWidth-filled)
		fmt.Fprintf(&b, "\nAuto-stop: [red]%s[white] %.1fs", bar, as.SecondsRemaining)
	}
	v.repsPanel.SetText(b.String())
}

func (v *View) renderTelemetryPanel() {
	v.mu.Lock()
	sample := v.lastSample
	zone := v.lastZone
	v.mu.Unlock()

	var b strings.Builder
	if zone != session.ZoneNone {
		fmt.Fprintf(&b, "Zone: [%s]%s[white]\n", zoneColor(zone), zone)
	} else {
		b.WriteString("Zone: -\n")
	}
	fmt.Fprintf(&b, "L  pos %7.1f  vel %7.1f  load %5.1f\n",
		sample.Left.Position, sample.Left.Velocity, sample.Left.Load)
	fmt.Fprintf(&b, "R  pos %7.1f  vel %7.1f  load %5.1f",
		sample.Right.Position, sample.Right.Velocity, sample.Right.Load)
	v.telemetryPanel.SetText(b.String())
}

func (v *View) renderStatusBar(msg string) {
	text := fmt.Sprintf(" [yellow]%s[white]\n [gray]%s[white]", msg, keyHelp)
	v.statusBar.SetText(text)
}

// refreshLog repaints the log pane with the newest lines that fit.
func (v *View) refreshLog() {
	_, _, _, height := v.logView.GetInnerRect()
	lines := v.model.GetLogLines()
	if height > 0 && len(lines) > height {
		lines = lines[len(lines)-height:]
	}
	v.logView.SetText(strings.Join(lines, "\n"))
}

func (v *View) showRoutineDetails(index int) {
	routines := v.ctrl.Routines()
	if index < 0 || index >= len(routines) {
		return
	}
	v.routineDetails.SetText(v.renderRoutineDetails(routines[index]))
}

func (v *View) renderRoutineDetails(r *routine.Routine) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]%s[white]\n\n", r.Name)
	for _, ex := range r.Exercises {
		if ex.SupersetID != "" && ex.OrderInSuperset > 0 {
			b.WriteString("  [teal]+[white] ")
		} else {
			b.WriteString("  ")
		}
		fmt.Fprintf(&b, "%s  ", ex.Name)
		switch {
		case ex.IsBodyweight():
			fmt.Fprintf(&b, "%d x %s", ex.Sets, formatDurationMMSS(ex.DurationSeconds))
		case ex.IsAMRAP():
			fmt.Fprintf(&b, "%d x AMRAP  %s  [%s]", ex.Sets, v.formatWeight(ex.WeightKg), ex.Mode)
		default:
			fmt.Fprintf(&b, "%d x %d  %s  [%s]", ex.Sets, ex.RepsPerSet, v.formatWeight(ex.WeightKg), ex.Mode)
		}
		if ex.WarmupReps > 0 {
			fmt.Fprintf(&b, "  %d warmup", ex.WarmupReps)
		}
		if ex.RestSeconds > 0 {
			fmt.Fprintf(&b, "  rest %ds", ex.RestSeconds)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (v *View) formatWeight(kg float64) string {
	if v.prefsMgr.Current().WeightUnit == prefs.UnitPounds {
		return fmt.Sprintf("%.1f lb", kg*prefs.PoundsPerKilogram)
	}
	return fmt.Sprintf("%.1f kg", kg)
}

func routineSummary(r *routine.Routine) string {
	sets := 0
	for _, ex := range r.Exercises {
		sets += ex.Sets
	}
	return fmt.Sprintf("%d exercises, %d sets", len(r.Exercises), sets)
}

func zoneColor(z session.Zone) string {
	switch z {
	case session.ZoneLoadMatch, session.ZoneOnTempo:
		return "green"
	case session.ZoneLoadNear, session.ZoneSlightlyFast:
		return "yellow"
	case session.ZoneLoadOff, session.ZoneTooSlow, session.ZoneTooFast:
		return "red"
	case session.ZoneBrisk:
		return "teal"
	case session.ZoneRest:
		return "blue"
	default:
		return "gray"
	}
}

func formatDurationMMSS(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
