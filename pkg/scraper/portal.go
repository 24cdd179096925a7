package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shiftwatch/shiftwatch/pkg/common"
)

const (
	signInPath      = "/login"
	rosterPath      = "/roster/month"
	shiftDetailPath = "/roster/shift"

	portalRequestTimeout = 30 * time.Second
	portalDateLayout     = "2006-01-02"
	portalTimeLayout     = "15:04"
)

// PortalScraper drives the employee portal over a cookie-jar HTTP session:
// form sign-in, month roster page, optional per-shift detail pages.
type PortalScraper struct {
	baseURL      string
	fallbackURLs []string
	skipBroken   bool
	client       *http.Client
	clock        common.Clock
}

var _ Scraper = (*PortalScraper)(nil)

func NewPortalScraper(baseURL string, fallbackURLs []string, skipBroken bool, clock common.Clock) *PortalScraper {
	return &PortalScraper{
		baseURL:      strings.TrimRight(baseURL, "/"),
		fallbackURLs: fallbackURLs,
		skipBroken:   skipBroken,
		clock:        clock,
	}
}

func (ps *PortalScraper) newSession() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	return &http.Client{
		Jar:     jar,
		Timeout: portalRequestTimeout,
	}, nil
}

// Run signs in and harvests the current month's roster. Every error path
// resolves to a *Failure so that the instance can store it as an exit code.
func (ps *PortalScraper) Run(ctx context.Context, creds Credentials) (*Result, error) {
	urls := append([]string{ps.baseURL}, ps.fallbackURLs...)

	var lastErr *Failure
	for attempt, base := range urls {
		if attempt > 0 {
			slog.WarnContext(ctx, "Retrying portal session on fallback URL", "url", base, "attempt", attempt)
		}

		result, err := ps.runSession(ctx, base, creds)
		if err == nil {
			return result, nil
		}

		lastErr = FromError(err)

		// sign-in rejections are definitive, a mirror won't change them
		if lastErr.Kind == FailureSignInFailed && lastErr.SignIn != SignInRemoteDown {
			return nil, lastErr
		}

		if ctx.Err() != nil {
			return nil, NewFailure(FailureConnectError)
		}
	}

	return nil, lastErr
}

func (ps *PortalScraper) runSession(ctx context.Context, base string, creds Credentials) (*Result, error) {
	client, err := ps.newSession()
	if err != nil {
		return nil, NewFailure(FailureBrowserEngine)
	}

	displayName, err := ps.signIn(ctx, client, base, creds)
	if err != nil {
		return nil, err
	}

	shifts, err := ps.fetchRoster(ctx, client, base)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "Portal session finished", "shifts", len(shifts))

	return &Result{Shifts: shifts, DisplayName: displayName}, nil
}

func (ps *PortalScraper) signIn(ctx context.Context, client *http.Client, base string, creds Credentials) (string, error) {
	form := url.Values{}
	form.Set("employee", creds.EmployeeNumber)
	form.Set("password", creds.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+signInPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", NewOtherFailure(err.Error())
	}
	req.Header.Set(common.HeaderContentType, "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return "", NewFailure(FailureConnectError)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", NewSignInFailure(SignInRemoteDown)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", NewOtherFailure(err.Error())
	}

	if banner := doc.Find(".alert, .error-banner").First(); banner.Length() > 0 {
		return "", classifySignInBanner(banner.Text())
	}

	if resp.StatusCode != http.StatusOK {
		return "", NewSignInFailure(SignInUnknown)
	}

	displayName := strings.TrimSpace(doc.Find(".user-display-name").First().Text())

	return displayName, nil
}

func classifySignInBanner(text string) *Failure {
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "too many"):
		return NewSignInFailure(SignInTooManyTries)
	case strings.Contains(lower, "incorrect") || strings.Contains(lower, "invalid"):
		return NewSignInFailure(SignInIncorrectCredentials)
	case strings.Contains(lower, "unavailable") || strings.Contains(lower, "maintenance"):
		return NewSignInFailure(SignInRemoteDown)
	default:
		return &Failure{Kind: FailureSignInFailed, SignIn: SignInOther, Message: strings.TrimSpace(text)}
	}
}

func (ps *PortalScraper) fetchRoster(ctx context.Context, client *http.Client, base string) ([]Shift, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+rosterPath, nil)
	if err != nil {
		return nil, NewOtherFailure(err.Error())
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, NewFailure(FailureConnectError)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewOtherFailure(fmt.Sprintf("roster page returned %v", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, NewOtherFailure(err.Error())
	}

	var shifts []Shift
	var parseErr error

	doc.Find("table.roster tbody tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		shift, split, err := ps.parseRosterRow(row)
		if err != nil {
			parseErr = err
			return false
		}

		if shift == nil {
			return true // day off
		}

		if split && !ps.skipBroken {
			if err := ps.resolveSplitShift(ctx, client, base, shift); err != nil {
				slog.WarnContext(ctx, "Failed to resolve split shift, keeping roster times",
					"shift", shift.Number, common.ErrAttr(err))
			}
		}

		shifts = append(shifts, *shift)
		return true
	})

	if parseErr != nil {
		return nil, NewOtherFailure(parseErr.Error())
	}

	return shifts, nil
}

func (ps *PortalScraper) parseRosterRow(row *goquery.Selection) (*Shift, bool, error) {
	date := strings.TrimSpace(row.Find("td.date").Text())
	number := strings.TrimSpace(row.Find("td.shift-number").Text())

	if len(number) == 0 {
		return nil, false, nil
	}

	if _, err := time.Parse(portalDateLayout, date); err != nil {
		return nil, false, fmt.Errorf("bad roster date %q: %w", date, err)
	}

	start, err := ps.parseDayTime(date, strings.TrimSpace(row.Find("td.start").Text()))
	if err != nil {
		return nil, false, err
	}

	end, err := ps.parseDayTime(date, strings.TrimSpace(row.Find("td.end").Text()))
	if err != nil {
		return nil, false, err
	}

	// overnight shifts end the next day
	if !end.After(start) {
		end = end.Add(24 * time.Hour)
	}

	shift := &Shift{
		Number:   number,
		Date:     date,
		Start:    start,
		End:      end,
		Location: strings.TrimSpace(row.Find("td.location").Text()),
		Kind:     strings.TrimSpace(row.Find("td.kind").Text()),
	}

	split := row.HasClass("split-shift")

	return shift, split, nil
}

func (ps *PortalScraper) parseDayTime(date, value string) (time.Time, error) {
	t, err := time.ParseInLocation(portalDateLayout+" "+portalTimeLayout, date+" "+value, ps.clock.Now().Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("bad roster time %q: %w", value, err)
	}

	return t, nil
}

// resolveSplitShift opens the shift detail page to replace the roster's
// aggregate times with the actual segment boundaries.
func (ps *PortalScraper) resolveSplitShift(ctx context.Context, client *http.Client, base string, shift *Shift) error {
	detailURL := fmt.Sprintf("%s%s?number=%s&date=%s", base, shiftDetailPath,
		url.QueryEscape(shift.Number), url.QueryEscape(shift.Date))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, detailURL, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detail page returned %v", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return err
	}

	first := strings.TrimSpace(doc.Find(".segment .start").First().Text())
	last := strings.TrimSpace(doc.Find(".segment .end").Last().Text())
	if len(first) == 0 || len(last) == 0 {
		return fmt.Errorf("detail page has no segments")
	}

	start, err := ps.parseDayTime(shift.Date, first)
	if err != nil {
		return err
	}

	end, err := ps.parseDayTime(shift.Date, last)
	if err != nil {
		return err
	}

	if !end.After(start) {
		end = end.Add(24 * time.Hour)
	}

	shift.Start = start
	shift.End = end

	return nil
}
