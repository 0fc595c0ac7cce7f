package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"backsim/internal/equity"
	"backsim/internal/sim"
)

// Styles.
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4")).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	gainStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	chartStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

const labelWidth = 18

func row(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-*s", labelWidth, label)) + valueStyle.Render(value)
}

func signedRow(label string, v float64, format func(float64) string) string {
	s := labelStyle.Render(fmt.Sprintf("%-*s", labelWidth, label))
	switch {
	case v > 0:
		return s + gainStyle.Render(format(v))
	case v < 0:
		return s + lossStyle.Render(format(v))
	default:
		return s + valueStyle.Render(format(v))
	}
}

// Summary renders a run summary with its resolved parameters.
func Summary(sum sim.Summary, params map[string]float64) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(sum.Name))
	b.WriteByte('\n')
	b.WriteString(row("Window", fmt.Sprintf("%s .. %s",
		sum.StartDate.Format("2006-01-02"), sum.EndDate.Format("2006-01-02"))))
	b.WriteByte('\n')
	b.WriteString(row("Start cash", FormatMoney(sum.StartCash)))
	b.WriteByte('\n')
	b.WriteString(signedRow("End equity", sum.EndEquity-sum.StartCash,
		func(float64) string { return FormatMoney(sum.EndEquity) }))
	b.WriteByte('\n')
	b.WriteString(signedRow("Annual profit", sum.Results.AnnProfit, FormatPct))
	b.WriteByte('\n')
	b.WriteString(row("Max drawdown", FormatPct(sum.Results.MaxDD)))
	b.WriteByte('\n')
	b.WriteString(row("Worst year", FormatPct(sum.Results.MinYear)))
	b.WriteByte('\n')
	b.WriteString(row("Worst month", FormatPct(sum.Results.MinMonth)))
	b.WriteByte('\n')
	b.WriteString(row("Trades", FormatInt(sum.NTrades)))
	b.WriteByte('\n')
	b.WriteString(row("Max positions", FormatInt(sum.MaxConcurrent)))
	b.WriteByte('\n')
	b.WriteString(row("Reliability", FormatPct(sum.Performance.Reliability)))
	b.WriteByte('\n')
	b.WriteString(row("Expectancy", FormatFloat(sum.Performance.Expectancy)))
	b.WriteByte('\n')
	b.WriteString(row("SQN", FormatFloat(sum.Performance.SQN)))
	b.WriteByte('\n')
	b.WriteString(row("Days per trade", FormatFloat(sum.Performance.DaysPTrade)))

	if len(params) > 0 {
		b.WriteByte('\n')
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte('\n')
			b.WriteString(dimStyle.Render(fmt.Sprintf("%s = %g", k, params[k])))
		}
	}
	return b.String()
}

// Leaderboard renders one compact line per run, best first.
func Leaderboard(runs []RunLine) string {
	var b strings.Builder
	b.WriteString(labelStyle.Render(fmt.Sprintf("%-28s %10s %8s %8s %7s %8s",
		"SYSTEM", "PROFIT/Y", "MAXDD", "RELIAB", "TRADES", "SQN")))
	for _, r := range runs {
		b.WriteByte('\n')
		line := fmt.Sprintf("%-28s %10s %8s %8s %7s %8s",
			r.Name, FormatPct(r.AnnProfit), FormatPct(r.MaxDD),
			FormatPct(r.Reliability), FormatInt(r.NTrades), FormatFloat(r.SQN))
		if r.AnnProfit > 0 {
			b.WriteString(gainStyle.Render(line))
		} else {
			b.WriteString(lossStyle.Render(line))
		}
	}
	return b.String()
}

// RunLine is one leaderboard row.
type RunLine struct {
	Name        string
	AnnProfit   float64
	MaxDD       float64
	Reliability float64
	NTrades     int
	SQN         float64
}

// EquityChart renders an encoded equity thumbnail as a block chart. The
// half and double reference lines render as dotted rows when present.
func EquityChart(thumb []byte) (string, error) {
	t, err := equity.Decode(thumb)
	if err != nil {
		return "", err
	}

	grid := make([][]rune, t.Height)
	for y := range grid {
		grid[y] = make([]rune, t.Width)
		for x := range grid[y] {
			grid[y][x] = ' '
		}
	}
	markLine := func(c equity.Coord) {
		if c.DY != 1 || c.Y < 0 || c.Y >= t.Height {
			return
		}
		for x := range grid[c.Y] {
			grid[c.Y][x] = '·'
		}
	}
	markLine(t.Half)
	markLine(t.Double)

	for x, c := range t.Columns {
		for dy := 0; dy <= c.DY; dy++ {
			y := c.Y + dy
			if y >= 0 && y < t.Height {
				grid[y][x] = '█'
			}
		}
	}

	lines := make([]string, t.Height)
	for y := range grid {
		lines[y] = chartStyle.Render(string(grid[y]))
	}
	return strings.Join(lines, "\n"), nil
}
