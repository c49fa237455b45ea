// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enquiry-workers/internal/common/filestore"
	"enquiry-workers/internal/common/lock"
	"enquiry-workers/internal/common/logger"
	"enquiry-workers/internal/common/sheets"
	"enquiry-workers/internal/common/sheets/sheetstest"
	"enquiry-workers/internal/enquiry"
	"enquiry-workers/internal/models"

	notifyoutcome "enquiry-workers/internal/workers/communication/notify-outcome"
	completeindent "enquiry-workers/internal/workers/enquiry/complete-indent"
	generateidentifiers "enquiry-workers/internal/workers/enquiry/generate-identifiers"
	indexcandidate "enquiry-workers/internal/workers/enquiry/index-candidate"
	"enquiry-workers/internal/workers/enquiry/submit"
)

// ==========================
// Fakes
// ==========================

type indexedDoc struct {
	Path string
	Body map[string]interface{}
}

type fakeES struct {
	mu   sync.Mutex
	docs []indexedDoc
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]interface{}
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.docs = append(f.docs, indexedDoc{Path: r.URL.Path, Body: body})
	version := len(f.docs)
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"_index":"enquiries","_id":"%s","_version":%d,"result":"created"}`, body["candidate_enquiry_number"], version)
}

func (f *fakeES) Docs() []indexedDoc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]indexedDoc(nil), f.docs...)
}

type recordingSES struct {
	mu   sync.Mutex
	sent []*ses.SendEmailInput
}

func (r *recordingSES) SendEmail(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, params)
	return &ses.SendEmailOutput{}, nil
}

// ==========================
// Pipeline
// ==========================

type pipeline struct {
	sheets *sheetstest.Server
	es     *fakeES
	ses    *recordingSES

	generateIDs    *generateidentifiers.Handler
	submit         *submit.Handler
	completeIndent *completeindent.Handler
	index          *indexcandidate.Handler
	notify         *notifyoutcome.Handler
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	log := logger.NewTestLogger(t)

	srv := sheetstest.NewServer()
	t.Cleanup(srv.Close)
	srv.SetTable(sheets.TableIndent, sheetstest.Layout(
		[]string{"Timestamp", "Indent Number", "Post", "Department", "Status", "Actual 2"},
		[]string{"01/03/2024 10:00:00", "AAP-01", "Driver", "Logistics", "Pending", ""},
		[]string{"02/03/2024 10:00:00", "AAP-03", "Accountant", "Finance", "Pending", ""},
	))
	srv.SetTable(sheets.TableEnquiry, sheetstest.Layout(enquiry.EnquiryColumns,
		[]string{"03/03/2024 11:00:00", "AAP-03", "ENQ-04"},
	))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	client := sheets.NewClient(sheets.Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, log)
	reconciler := enquiry.NewReconciler(client, time.UTC, log)
	saga := enquiry.NewSaga(
		reconciler,
		filestore.NewScriptStore(client, "folder-1", 1<<20),
		enquiry.NewMemoryJournal(),
		log,
		enquiry.WithSerializedWrites(lock.NewRedisLocker(rdb, 5*time.Second, time.Second, log)),
	)

	es := &fakeES{}
	esSrv := httptest.NewServer(es)
	t.Cleanup(esSrv.Close)
	esClient, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{esSrv.URL}, DisableRetry: true})
	require.NoError(t, err)

	p := &pipeline{sheets: srv, es: es, ses: &recordingSES{}}

	p.generateIDs, err = generateidentifiers.NewHandler(generateidentifiers.HandlerOptions{
		CustomConfig: generateidentifiers.DefaultConfig(),
		Fetcher:      client,
		Redis:        rdb,
		Logger:       log,
	})
	require.NoError(t, err)

	p.submit, err = submit.NewHandler(submit.HandlerOptions{
		CustomConfig: submit.DefaultConfig(),
		Saga:         saga,
		Fetcher:      client,
		Redis:        rdb,
		Logger:       log,
	})
	require.NoError(t, err)

	p.completeIndent, err = completeindent.NewHandler(completeindent.HandlerOptions{
		CustomConfig: completeindent.DefaultConfig(),
		Reconciler:   reconciler,
		Logger:       log,
	})
	require.NoError(t, err)

	p.index, err = indexcandidate.NewHandler(indexcandidate.HandlerOptions{
		CustomConfig: indexcandidate.DefaultConfig(),
		Client:       esClient,
		Logger:       log,
	})
	require.NoError(t, err)

	notifyCfg := notifyoutcome.DefaultConfig()
	notifyCfg.EmailEnabled = true
	notifyCfg.FromEmail = "enquiries@example.com"
	notifyCfg.To = []string{"recruiting@example.com"}
	p.notify, err = notifyoutcome.NewHandler(notifyoutcome.HandlerOptions{
		CustomConfig: notifyCfg,
		SES:          p.ses,
		Logger:       log,
	})
	require.NoError(t, err)

	return p
}

func candidate() models.Candidate {
	return models.Candidate{
		Name:  "Asha Verma",
		Phone: "9876543210",
		Email: "asha@example.com",
		DOB:   "1995-03-05",
	}
}

// ==========================
// Flows
// ==========================

func TestEnquiryFlow_NeedMore(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	ids, err := p.generateIDs.Execute(ctx, &generateidentifiers.Input{SessionID: "sess-1", IndentNumber: "AAP-03"})
	require.NoError(t, err)
	assert.Equal(t, "ENQ-05", ids.CandidateEnquiryNumber)
	assert.True(t, ids.IndentFound)

	out, err := p.submit.Execute(ctx, &submit.Input{Submission: models.Submission{
		ID:                     "sub-1",
		SessionID:              "sess-1",
		IndentNumber:           ids.IndentNumber,
		CandidateEnquiryNumber: ids.CandidateEnquiryNumber,
		Candidate:              candidate(),
		Photo:                  &models.Upload{Name: "asha.jpg", MimeType: "image/jpeg", Data: []byte("hello")},
	}})
	require.NoError(t, err)
	assert.Equal(t, "NeedMore", out.Status)
	assert.Equal(t, "ENQ-05", out.CandidateEnquiryNumber)
	assert.Equal(t, "https://drive.example.com/folder-1/ENQ-05_photo_asha.jpg", out.PhotoURL)

	assert.Len(t, p.sheets.CallsFor("insert", sheets.TableEnquiry), 1)
	assert.Empty(t, p.sheets.CallsFor("updateCell", ""), "a NeedMore submission never touches the requisition")

	indexed, err := p.index.Execute(ctx, &indexcandidate.Input{
		CandidateEnquiryNumber: out.CandidateEnquiryNumber,
		IndentNumber:           "AAP-03",
		Status:                 out.Status,
		Post:                   ids.Post,
		PhotoURL:               out.PhotoURL,
		Candidate:              candidate(),
	})
	require.NoError(t, err)
	assert.True(t, indexed.Indexed)
	docs := p.es.Docs()
	require.Len(t, docs, 1)
	assert.Equal(t, "/enquiries/_doc/ENQ-05", docs[0].Path)

	note, err := p.notify.Execute(ctx, &notifyoutcome.Input{
		Success:                true,
		SubmissionID:           out.SubmissionID,
		CandidateEnquiryNumber: out.CandidateEnquiryNumber,
		IndentNumber:           "AAP-03",
	})
	require.NoError(t, err)
	assert.Equal(t, notifyoutcome.StatusSent, note.Status)
	assert.Len(t, p.ses.sent, 1)
}

func TestEnquiryFlow_Complete(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	out, err := p.submit.Execute(ctx, &submit.Input{Submission: models.Submission{
		ID:           "sub-2",
		SessionID:    "sess-2",
		Status:       models.StatusComplete,
		IndentNumber: "AAP-03",
		Candidate:    candidate(),
	}})
	require.NoError(t, err)

	assert.Equal(t, "Complete", out.Status)
	assert.True(t, out.IndentPatched)
	assert.Len(t, p.sheets.CallsFor("insert", sheets.TableEnquiry), 1)
	assert.NotEmpty(t, p.sheets.CallsFor("fetch", sheets.TableIndent))
	assert.LessOrEqual(t, len(p.sheets.CallsFor("updateCell", sheets.TableIndent)), 2)

	row := p.sheets.Table(sheets.TableIndent)[7]
	assert.Equal(t, "Complete", row[4])
	assert.NotEmpty(t, row[5])

	// The standalone activity re-applies the same values.
	report, err := p.completeIndent.Execute(ctx, &completeindent.Input{IndentNumber: "AAP-03"})
	require.NoError(t, err)
	assert.True(t, report.IndentPatched)
	assert.Equal(t, 8, report.IndentRow)
}

func TestEnquiryFlow_FailureIsNotified(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.sheets.Reject("insert", "Sheet is protected")

	_, err := p.submit.Execute(ctx, &submit.Input{Submission: models.Submission{
		ID:           "sub-3",
		SessionID:    "sess-3",
		IndentNumber: "AAP-03",
		Candidate:    candidate(),
	}})
	require.Error(t, err)
	stdErr := enquiry.ToStandardError(submit.TaskType, err)

	note, err := p.notify.Execute(ctx, &notifyoutcome.Input{
		Success:      false,
		SubmissionID: "sub-3",
		IndentNumber: "AAP-03",
		ErrorMessage: stdErr.Details,
	})
	require.NoError(t, err)
	assert.Equal(t, notifyoutcome.TypeSubmissionFailed, note.NotificationType)
	assert.Contains(t, note.Message, "Sheet is protected")
	assert.Len(t, p.ses.sent, 1)
	assert.Empty(t, p.es.Docs())
}

func TestEnquiryFlow_RetryDoesNotDuplicate(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	input := func() *submit.Input {
		return &submit.Input{Submission: models.Submission{
			ID:           "sub-4",
			SessionID:    "sess-4",
			IndentNumber: "AAP-03",
			Candidate:    candidate(),
		}}
	}

	first, err := p.submit.Execute(ctx, input())
	require.NoError(t, err)
	second, err := p.submit.Execute(ctx, input())
	require.NoError(t, err)

	assert.Equal(t, first.CandidateEnquiryNumber, second.CandidateEnquiryNumber)
	assert.Len(t, p.sheets.CallsFor("insert", ""), 1)
}

// TestBrokerTopology checks a live gateway when ZEEBE_ADDRESS is set.
func TestBrokerTopology(t *testing.T) {
	addr := os.Getenv("ZEEBE_ADDRESS")
	if addr == "" {
		t.Skip("ZEEBE_ADDRESS not set")
	}

	client, err := zbc.NewClient(&zbc.ClientConfig{GatewayAddress: addr, UsePlaintextConnection: true})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = client.NewTopologyCommand().Send(ctx)
	assert.NoError(t, err)
}

// ==========================
// Benchmarks
// ==========================

func BenchmarkHandler_GenerateIdentifiers(b *testing.B) {
	srv := sheetstest.NewServer()
	defer srv.Close()
	srv.SetTable(sheets.TableIndent, sheetstest.Layout([]string{"Timestamp", "Indent Number"}, []string{"", "AAP-03"}))
	srv.SetTable(sheets.TableEnquiry, sheetstest.Layout(enquiry.EnquiryColumns, []string{"", "AAP-03", "ENQ-04"}))

	log := logger.NewNoOpLogger()
	client := sheets.NewClient(sheets.Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, log)
	handler, err := generateidentifiers.NewHandler(generateidentifiers.HandlerOptions{
		CustomConfig: generateidentifiers.DefaultConfig(),
		Fetcher:      client,
		Logger:       log,
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		handler.Execute(context.Background(), &generateidentifiers.Input{SessionID: fmt.Sprintf("bench-%d", i)})
	}
}
