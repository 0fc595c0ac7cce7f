package equity

import (
	"math"
	"time"

	"backsim/internal/domain"
)

// Record is one closed trade plus its holding period in trading days, as
// counted against the index calendar by the simulation loop.
type Record struct {
	domain.Trade
	HoldingDays int
}

// TradeLog is the trade history of one simulation run.
type TradeLog struct {
	records []Record
}

func NewTradeLog() *TradeLog { return &TradeLog{} }

func (l *TradeLog) Append(t domain.Trade, holdingDays int) {
	l.records = append(l.records, Record{Trade: t, HoldingDays: holdingDays})
}

func (l *TradeLog) Extend(records []Record) {
	l.records = append(l.records, records...)
}

func (l *TradeLog) Len() int          { return len(l.records) }
func (l *TradeLog) Records() []Record { return l.records }

// Performance holds the aggregate trade statistics of a finished run.
// Float fields are clamped to [-999.99, 999.99]; undefined ratios are NaN.
type Performance struct {
	MaxPos      int
	NTrades     int
	MaxWin      float64 // largest winning trade, %
	MaxLoss     float64 // largest losing trade, % (positive)
	MaxNWin     int     // longest winning streak
	MaxNLoss    int     // longest losing streak
	AvgWin      float64
	AvgLoss     float64
	Reliability float64 // % of trades that won
	ProfitFact  float64 // total win % / total loss %
	Expectancy  float64 // mean profit % per trade
	StdDev      float64 // population std-dev of per-trade profit %
	SQN         float64
	DaysPTrade  float64 // mean holding period in trading days
	ExpPDay     float64
	ProfitPA    float64 // net profit % per year per position slot
	TrueAvgLoss float64
	TradesPA    int
	ProfitRatio float64
}

// Performance computes the trade statistics over [start, end]. maxPos is the
// high-water mark of concurrent positions, used to normalise profit per
// position slot. Trades with exactly 0 profit count as losses.
func (l *TradeLog) Performance(start, end time.Time, maxPos int) Performance {
	p := Performance{MaxPos: maxPos, NTrades: len(l.records)}
	var nWin, nLoss, consecWin, consecLoss int
	var totalWin, totalLoss, totalDays float64
	profits := make([]float64, 0, len(l.records))
	for _, r := range l.records {
		totalDays += float64(r.HoldingDays)
		profit := r.ProfitPct()
		profits = append(profits, profit)
		if profit > 0 {
			nWin++
			totalWin += profit
			if profit > p.MaxWin {
				p.MaxWin = profit
			}
			consecLoss = 0
			consecWin++
		} else {
			nLoss++
			totalLoss -= profit
			if -profit > p.MaxLoss {
				p.MaxLoss = -profit
			}
			consecWin = 0
			consecLoss++
		}
		if consecWin > p.MaxNWin {
			p.MaxNWin = consecWin
		}
		if consecLoss > p.MaxNLoss {
			p.MaxNLoss = consecLoss
		}
	}

	nTotal := float64(nWin + nLoss)
	p.AvgWin = Div(totalWin, float64(nWin))
	p.AvgLoss = Div(totalLoss, float64(nLoss))
	p.Reliability = 100 * Div(float64(nWin), nTotal)
	p.ProfitFact = Div(totalWin, totalLoss)
	totalProfit := totalWin - totalLoss
	p.Expectancy = Div(totalProfit, nTotal)

	var variance float64
	for _, x := range profits {
		variance += (x - p.Expectancy) * (x - p.Expectancy)
	}
	p.StdDev = math.Sqrt(Div(variance, nTotal))
	p.SQN = Div(p.Expectancy, p.StdDev)
	if !math.IsNaN(p.SQN) {
		if nTotal < 100 {
			p.SQN *= math.Sqrt(nTotal)
		} else {
			p.SQN *= 10
		}
	}
	p.DaysPTrade = Div(totalDays, nTotal)
	p.ExpPDay = Div(p.Expectancy, p.DaysPTrade)

	nYears := end.Sub(start).Hours() / 24 / 365
	p.ProfitPA = Div(totalProfit, nYears*float64(maxPos))
	p.TrueAvgLoss = Div(totalLoss, nTotal)
	if nYears > 0 {
		p.TradesPA = int(nTotal/nYears + 0.499999)
	}
	p.ProfitRatio = Div(p.ProfitPA, p.TrueAvgLoss*float64(p.TradesPA))

	for _, f := range []*float64{
		&p.MaxWin, &p.MaxLoss, &p.AvgWin, &p.AvgLoss, &p.Reliability,
		&p.ProfitFact, &p.Expectancy, &p.StdDev, &p.SQN, &p.DaysPTrade,
		&p.ExpPDay, &p.ProfitPA, &p.TrueAvgLoss, &p.ProfitRatio,
	} {
		*f = clamp(*f, -999.99, 999.99)
	}
	return p
}
