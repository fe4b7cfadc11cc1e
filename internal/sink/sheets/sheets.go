// Package sheets provides a Google Sheets transcript sink. Each session gets
// its own tab on a template spreadsheet; transcript rows are appended in
// sequence order.
package sheets

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"meeting-transcription-service/internal/models"
	"meeting-transcription-service/internal/sink"
)

// Sink appends transcript rows to a Google spreadsheet.
type Sink struct {
	srv           *sheets.Service
	spreadsheetID string
}

// New creates a sheets sink against the given template spreadsheet.
// credentialsFile may be empty when ambient credentials are available.
func New(ctx context.Context, spreadsheetID, credentialsFile string) (*Sink, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("sheets: spreadsheet id required")
	}
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	return &Sink{srv: srv, spreadsheetID: spreadsheetID}, nil
}

// CreateSession adds a tab for the session and writes the header rows.
func (s *Sink) CreateSession(ctx context.Context, meta models.SessionMeta) (sink.Ref, error) {
	tab := tabName(meta)

	resp, err := s.srv.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{Title: tab},
				},
			},
		},
	}).Context(ctx).Do()
	if err != nil {
		return sink.Ref{}, fmt.Errorf("%w: add sheet: %v", sink.ErrWriteFailed, err)
	}

	var gid int64
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		gid = resp.Replies[0].AddSheet.Properties.SheetId
	}

	header := &sheets.ValueRange{Values: headerRows(meta)}
	if _, err := s.srv.Spreadsheets.Values.Update(s.spreadsheetID, quoteRange(tab, "A1"), header).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return sink.Ref{}, fmt.Errorf("%w: write header: %v", sink.ErrWriteFailed, err)
	}

	link := fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/edit#gid=%d", s.spreadsheetID, gid)
	log.Info().
		Str("sessionId", meta.SessionID).
		Str("tab", tab).
		Str("link", link).
		Msg("Sheet tab created")

	return sink.Ref{ID: tab, Link: link}, nil
}

// Append adds one transcript row to the session's tab.
func (s *Sink) Append(ctx context.Context, ref sink.Ref, entry models.TranscriptEntry) error {
	row := &sheets.ValueRange{Values: [][]interface{}{entryRow(entry)}}
	_, err := s.srv.Spreadsheets.Values.Append(s.spreadsheetID, quoteRange(ref.ID, "A:D"), row).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%w: append row: %v", sink.ErrWriteFailed, err)
	}
	return nil
}

// tabName derives a unique, human-readable tab title for the session.
func tabName(meta models.SessionMeta) string {
	title := meta.Title
	if title == "" {
		title = "Untitled"
	}
	short := meta.SessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s %s (%s)", title, meta.StartedAt.Format("2006-01-02"), short)
}

// headerRows builds the metadata block and the column header row.
func headerRows(meta models.SessionMeta) [][]interface{} {
	return [][]interface{}{
		{"Title", meta.Title},
		{"Language", meta.Language},
		{"Started", meta.StartedAt.Format("2006-01-02 15:04")},
		{},
		{"Seq", "Speaker", "Text", "Speaker changed"},
	}
}

// entryRow builds the spreadsheet row for one transcript entry.
func entryRow(e models.TranscriptEntry) []interface{} {
	return []interface{}{e.Sequence, e.SpeakerName, e.Text, e.SpeakerChanged}
}

func quoteRange(tab, cells string) string {
	return fmt.Sprintf("'%s'!%s", tab, cells)
}
