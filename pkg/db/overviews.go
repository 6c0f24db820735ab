package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dtnitsch/mktdata-loader/models"
)

func (c *Conn) rowExists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := c.QueryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpsertOverview replaces the overview row for o.Sid, keeping c_time from
// the first insert. inserted is false when a row was overwritten.
func (c *Conn) UpsertOverview(ctx context.Context, o *models.Overview, now time.Time) (inserted bool, err error) {
	exists, err := c.rowExists(ctx, "SELECT 1 FROM overviews WHERE sid = ?", o.Sid)
	if err != nil {
		return false, fmt.Errorf("failed to check overview %d: %w", o.Sid, err)
	}

	now = now.UTC()
	_, err = c.Exec(ctx, `
		INSERT INTO overviews (sid, symbol, name, description, cik, exch, curr, country,
			sector, industry, address, fiscalyearend, latestquarter, marketcapitalization,
			ebitda, peratio, pegratio, bookvalue, dividendpershare, dividendyield, eps,
			c_time, mod_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sid) DO UPDATE SET
			symbol = excluded.symbol,
			name = excluded.name,
			description = excluded.description,
			cik = excluded.cik,
			exch = excluded.exch,
			curr = excluded.curr,
			country = excluded.country,
			sector = excluded.sector,
			industry = excluded.industry,
			address = excluded.address,
			fiscalyearend = excluded.fiscalyearend,
			latestquarter = excluded.latestquarter,
			marketcapitalization = excluded.marketcapitalization,
			ebitda = excluded.ebitda,
			peratio = excluded.peratio,
			pegratio = excluded.pegratio,
			bookvalue = excluded.bookvalue,
			dividendpershare = excluded.dividendpershare,
			dividendyield = excluded.dividendyield,
			eps = excluded.eps,
			mod_time = excluded.mod_time
	`, o.Sid, o.Symbol, o.Name, o.Description, o.CIK, o.Exchange, o.Currency, o.Country,
		o.Sector, o.Industry, o.Address, o.FiscalYearEnd, NewNullTime(o.LatestQuarter),
		o.MarketCapitalization, o.EBITDA, o.PERatio, o.PEGRatio, o.BookValue,
		o.DividendPerShare, o.DividendYield, o.EPS, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to upsert overview %d: %w", o.Sid, err)
	}
	return !exists, nil
}

// UpsertOverviewExt replaces the extended metrics row for e.Sid, keeping c_time.
func (c *Conn) UpsertOverviewExt(ctx context.Context, e *models.OverviewExt, now time.Time) (inserted bool, err error) {
	exists, err := c.rowExists(ctx, "SELECT 1 FROM overviewexts WHERE sid = ?", e.Sid)
	if err != nil {
		return false, fmt.Errorf("failed to check overview ext %d: %w", e.Sid, err)
	}

	now = now.UTC()
	_, err = c.Exec(ctx, `
		INSERT INTO overviewexts (sid, revenuepersharettm, profitmargin, operatingmarginttm,
			returnonassetsttm, returnonequityttm, revenuettm, grossprofitttm, dilutedepsttm,
			quarterlyearningsgrowthyoy, quarterlyrevenuegrowthyoy, analysttargetprice,
			trailingpe, forwardpe, pricetosalesratiottm, pricetobookratio, evtorevenue,
			evtoebitda, beta, annweekhigh, annweeklow, fiftydaymovingaverage,
			twohdaymovingaverage, sharesoutstanding, dividenddate, exdividenddate,
			c_time, mod_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sid) DO UPDATE SET
			revenuepersharettm = excluded.revenuepersharettm,
			profitmargin = excluded.profitmargin,
			operatingmarginttm = excluded.operatingmarginttm,
			returnonassetsttm = excluded.returnonassetsttm,
			returnonequityttm = excluded.returnonequityttm,
			revenuettm = excluded.revenuettm,
			grossprofitttm = excluded.grossprofitttm,
			dilutedepsttm = excluded.dilutedepsttm,
			quarterlyearningsgrowthyoy = excluded.quarterlyearningsgrowthyoy,
			quarterlyrevenuegrowthyoy = excluded.quarterlyrevenuegrowthyoy,
			analysttargetprice = excluded.analysttargetprice,
			trailingpe = excluded.trailingpe,
			forwardpe = excluded.forwardpe,
			pricetosalesratiottm = excluded.pricetosalesratiottm,
			pricetobookratio = excluded.pricetobookratio,
			evtorevenue = excluded.evtorevenue,
			evtoebitda = excluded.evtoebitda,
			beta = excluded.beta,
			annweekhigh = excluded.annweekhigh,
			annweeklow = excluded.annweeklow,
			fiftydaymovingaverage = excluded.fiftydaymovingaverage,
			twohdaymovingaverage = excluded.twohdaymovingaverage,
			sharesoutstanding = excluded.sharesoutstanding,
			dividenddate = excluded.dividenddate,
			exdividenddate = excluded.exdividenddate,
			mod_time = excluded.mod_time
	`, e.Sid, e.RevenuePerShareTTM, e.ProfitMargin, e.OperatingMarginTTM,
		e.ReturnOnAssetsTTM, e.ReturnOnEquityTTM, e.RevenueTTM, e.GrossProfitTTM, e.DilutedEPSTTM,
		e.QuarterlyEarningsGrowthYOY, e.QuarterlyRevenueGrowthYOY, e.AnalystTargetPrice,
		e.TrailingPE, e.ForwardPE, e.PriceToSalesRatioTTM, e.PriceToBookRatio, e.EVToRevenue,
		e.EVToEBITDA, e.Beta, e.WeekHigh52, e.WeekLow52, e.MovingAverage50,
		e.MovingAverage200, e.SharesOutstanding, NewNullTime(e.DividendDate),
		NewNullTime(e.ExDividendDate), now, now)
	if err != nil {
		return false, fmt.Errorf("failed to upsert overview ext %d: %w", e.Sid, err)
	}
	return !exists, nil
}

// OverviewTimes returns the creation and last modification time of an
// overview row.
func (c *Conn) OverviewTimes(ctx context.Context, sid int64) (created, modified time.Time, err error) {
	err = c.QueryRow(ctx, "SELECT c_time, mod_time FROM overviews WHERE sid = ?", sid).Scan(&created, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, time.Time{}, fmt.Errorf("overview %d: %w", sid, ErrNotFound)
	}
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to get overview times: %w", err)
	}
	return created, modified, nil
}

// GetOverview loads the stored overview for sid.
func (c *Conn) GetOverview(ctx context.Context, sid int64) (*models.Overview, error) {
	var o models.Overview
	var lq sql.NullTime
	err := c.QueryRow(ctx, `
		SELECT sid, symbol, name, description, cik, exch, curr, country, sector, industry,
			address, fiscalyearend, latestquarter, marketcapitalization, ebitda, peratio,
			pegratio, bookvalue, dividendpershare, dividendyield, eps
		FROM overviews WHERE sid = ?
	`, sid).Scan(&o.Sid, &o.Symbol, &o.Name, &o.Description, &o.CIK, &o.Exchange, &o.Currency,
		&o.Country, &o.Sector, &o.Industry, &o.Address, &o.FiscalYearEnd, &lq,
		&o.MarketCapitalization, &o.EBITDA, &o.PERatio, &o.PEGRatio, &o.BookValue,
		&o.DividendPerShare, &o.DividendYield, &o.EPS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("overview %d: %w", sid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get overview %d: %w", sid, err)
	}
	if lq.Valid {
		o.LatestQuarter = lq.Time.UTC()
	}
	return &o, nil
}
