package sinks

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"sleepywoodpecker/rp-goes-power/internal/processing"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const (
	defaultChartWidth  = 80
	defaultChartHeight = 4
	chartHeadroom      = 1.1 // plots scale to 110% of the window maximum
)

var sparkBlocks = []rune(" ▁▂▃▄▅▆▇█")

type channelPanel struct {
	view  *tview.TextView
	label string
	unit  string
	color string
}

// Dashboard is the terminal renderer: one chart per channel with its rolling
// average, the last event summary and a status line.
type Dashboard struct {
	app     *tview.Application
	title   string
	layout  *tview.Flex
	header  *tview.TextView
	panels  [processing.NumChannels]*channelPanel
	event   *tview.TextView
	status  *tview.TextView
	running atomic.Bool

	showEvents bool
	lastEvent  *processing.EventSummary
}

func NewDashboard(app *tview.Application, title string, showEvents bool) *Dashboard {
	d := &Dashboard{
		app:        app,
		title:      title,
		showEvents: showEvents,
	}
	d.createComponents()
	d.setupInputHandler()
	return d
}

func (d *Dashboard) createComponents() {
	d.header = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)

	d.panels = [processing.NumChannels]*channelPanel{
		{label: "Bus Voltage", unit: "V", color: "green"},
		{label: "Current", unit: "mA", color: "yellow"},
		{label: "Power", unit: "mW", color: "aqua"},
	}
	for _, p := range d.panels {
		p.view = tview.NewTextView().SetDynamicColors(true)
		p.view.SetBorder(true).SetTitle(fmt.Sprintf(" %s (%s) ", p.label, p.unit))
	}

	d.event = tview.NewTextView().SetDynamicColors(true)
	d.event.SetBorder(true).SetTitle(" Last event ")

	d.status = tview.NewTextView().SetDynamicColors(true)

	charts := tview.NewFlex().SetDirection(tview.FlexRow)
	for _, p := range d.panels {
		charts.AddItem(p.view, 0, 1, false)
	}

	body := tview.NewFlex().
		AddItem(charts, 0, 4, false).
		AddItem(d.event, 32, 0, false)

	d.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.header, 1, 0, false).
		AddItem(body, 0, 1, false).
		AddItem(d.status, 1, 0, false)
}

func (d *Dashboard) setupInputHandler() {
	d.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyEscape, event.Rune() == 'q':
			d.app.Stop()
			return nil
		case event.Rune() == 'e':
			d.showEvents = !d.showEvents
			if !d.showEvents {
				d.event.SetText("")
			}
			return nil
		}
		return event
	})
}

func (d *Dashboard) Name() string { return "dashboard" }

// Run blocks until the user quits or ctx is cancelled.
func (d *Dashboard) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		d.app.Stop()
	}()

	d.running.Store(true)
	defer d.running.Store(false)
	return d.app.SetRoot(d.layout, true).Run()
}

func (d *Dashboard) Render(_ context.Context, report processing.Report) error {
	if !d.running.Load() {
		return nil
	}
	d.app.QueueUpdateDraw(func() {
		d.update(report)
	})
	return nil
}

// update must run on the tview event goroutine, or before Run starts.
func (d *Dashboard) update(report processing.Report) {
	d.header.SetText(fmt.Sprintf("[::b]%s[::-]  %s", d.title, report.Time.Format("15:04:05.000")))

	series := [processing.NumChannels][]float64{report.Voltage, report.Current, report.Power}
	avgs := [processing.NumChannels]float64{report.AvgVoltage, report.AvgCurrent, report.AvgPower}
	for i, p := range d.panels {
		width, height := chartSize(p.view)
		chart := Sparkline(series[i], width, height, seriesMax(series[i])*chartHeadroom)

		var b strings.Builder
		fmt.Fprintf(&b, "[%s]", p.color)
		for _, row := range chart {
			b.WriteString(row)
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[white]Avg %s: [::b]%.2f %s[::-]", p.label, avgs[i], p.unit)
		p.view.SetText(b.String())
	}

	if report.Event != nil {
		d.lastEvent = report.Event
	}
	if d.showEvents && d.lastEvent != nil {
		d.event.SetText(FormatEvent(d.lastEvent))
	}

	state := "[green]idle"
	if report.InEvent {
		state = "[red]IN EVENT"
	}
	d.status.SetText(fmt.Sprintf(
		"%s[white]  samples %d  rate %.1f/s  drops %d  events %d  duration p50 %.2fs p99 %.2fs  [gray](q quit, e toggle events)",
		state, report.SampleCount, report.SampleRate, report.Drops, report.EventCount,
		report.DurationP50Seconds, report.DurationP99Seconds,
	))
}

// FormatEvent lays a summary out as the event panel shows it.
func FormatEvent(ev *processing.EventSummary) string {
	return fmt.Sprintf(
		"[red]Duration: %.2fs\nSamples: %d\nAvg Voltage: %.2f V\nAvg Current: %.2f mA\nAvg Power: %.2f mW\nPeak Current: %.2f mA",
		ev.DurationSeconds, ev.DurationSamples, ev.AvgVoltage, ev.AvgCurrent, ev.AvgPower, ev.PeakCurrent,
	)
}

func chartSize(view *tview.TextView) (int, int) {
	_, _, w, h := view.GetInnerRect()
	// one row is taken by the average line
	h--
	if w <= 0 {
		w = defaultChartWidth
	}
	if h <= 0 {
		h = defaultChartHeight
	}
	return w, h
}

func seriesMax(values []float64) float64 {
	var m float64
	for i, v := range values {
		if i == 0 || v > m {
			m = v
		}
	}
	return m
}

// Sparkline draws values as a block chart of width columns and height rows,
// top row first. Each column shows the largest value of its slice of the
// series so short spikes stay visible. Values at or below zero are blank.
func Sparkline(values []float64, width, height int, max float64) []string {
	if width <= 0 || height <= 0 {
		return nil
	}
	rows := make([][]rune, height)
	for r := range rows {
		rows[r] = []rune(strings.Repeat(" ", width))
	}
	if len(values) == 0 || max <= 0 {
		return joinRows(rows)
	}

	levels := len(sparkBlocks) - 1
	for col := 0; col < width; col++ {
		lo := col * len(values) / width
		hi := (col + 1) * len(values) / width
		if hi <= lo {
			hi = lo + 1
		}
		if lo >= len(values) {
			break
		}
		if hi > len(values) {
			hi = len(values)
		}

		peak := values[lo]
		for _, v := range values[lo+1 : hi] {
			if v > peak {
				peak = v
			}
		}
		if peak <= 0 {
			continue
		}

		fill := int(peak / max * float64(height*levels))
		if fill > height*levels {
			fill = height * levels
		}
		for r := 0; r < height && fill > 0; r++ {
			n := fill
			if n > levels {
				n = levels
			}
			rows[height-1-r][col] = sparkBlocks[n]
			fill -= n
		}
	}
	return joinRows(rows)
}

func joinRows(rows [][]rune) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = string(r)
	}
	return out
}
