package integration

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/felo/mail-indexer/internal/content"
	"github.com/felo/mail-indexer/internal/db"
	"github.com/felo/mail-indexer/internal/indexer"
	"github.com/felo/mail-indexer/internal/parser"
	"github.com/felo/mail-indexer/internal/scoring"
	"github.com/felo/mail-indexer/internal/source"
)

const inbox = `From jane.smith@example.com Tue Jan  2 09:00:00 2024
From: Jane Smith <jane.smith@example.com>
To: John Doe <john.doe@example.com>
Subject: Re: Integration Test Email
Date: Tue, 02 Jan 2024 09:00:00 +0000
Message-ID: <reply-1@example.com>
In-Reply-To: <integration-test@example.com>
References: <integration-test@example.com>
X-Mozilla-Status: 0001

Looks good, budget approved.

From news@example.com Wed Jan  3 08:00:00 2024
From: Newsletter <news@example.com>
To: jane.smith@example.com
Subject: Weekly news
Date: Wed, 03 Jan 2024 08:00:00 +0000
Message-ID: <news-1@example.com>
Content-Type: text/html; charset=utf-8

<p>Sale sale sale, budget deals</p>
`

func newIndexer(database *db.DB) *indexer.Indexer {
	return indexer.NewIndexer(database, content.NewNormalizer("messages"), scoring.NewTokenizer(false, nil), zap.NewNop()).
		WithConcurrency(4)
}

func openStore(t *testing.T, path string) *source.Store {
	t.Helper()
	store, err := source.Open(path, source.Options{MaxMessageBytes: 1 << 20})
	require.NoError(t, err, "Should open mail store")
	t.Cleanup(func() { store.Close() })
	return store
}

// TestEndToEndWorkflow tests the complete workflow from a mail profile to ranking
func TestEndToEndWorkflow(t *testing.T) {
	// Step 1: Set up a profile with a Thunderbird mailbox and a loose .eml file
	profile := t.TempDir()
	mailDir := filepath.Join(profile, "Local Folders")
	require.NoError(t, os.MkdirAll(mailDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(mailDir, "Inbox"), []byte(inbox), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(mailDir, "Inbox.msf"), []byte("// mork"), 0644))
	require.NoError(t, copyFile(filepath.Join("testdata", "sample.eml"), filepath.Join(profile, "sample.eml")))

	// Step 2: Initialize database
	testDB, err := db.Open(":memory:")
	require.NoError(t, err, "Should open test database")
	defer testDB.Close()
	ctx := context.Background()

	count, err := testDB.CountMessages(ctx)
	require.NoError(t, err, "Should query empty database")
	assert.Equal(t, 0, count, "Database should start empty")

	// Step 3: Index the profile
	idx := newIndexer(testDB)
	report, err := idx.Run(ctx, openStore(t, profile))
	require.NoError(t, err, "Should index all messages")
	assert.Equal(t, 3, report.Admitted, "Should admit all messages")
	assert.Equal(t, 0, report.Unreadable, "Should have no failures")

	// Step 4: Verify message metadata
	reply, err := testDB.GetMessage(ctx, "reply-1@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Re: Integration Test Email", reply.Subject)
	assert.Equal(t, "thunderbird", reply.Vendor)
	assert.Equal(t, "Inbox", reply.Folder)
	assert.Equal(t, "Local Folders/Inbox#0", reply.SourceLocation)
	assert.True(t, reply.IsRead, "X-Mozilla-Status read bit")
	assert.Equal(t, "integration-test@example.com", reply.InReplyTo)

	sample, err := testDB.GetMessage(ctx, "integration-test@example.com")
	require.NoError(t, err)
	assert.Equal(t, "eml", sample.Vendor)

	// Step 5: Verify the part tree
	root, err := testDB.LoadPartTree(ctx, sample.ID)
	require.NoError(t, err, "Should rebuild part tree")
	parts := parser.Flatten(root)
	require.Len(t, parts, 7)

	types := make([]string, len(parts))
	for i, p := range parts {
		assert.Equal(t, i, p.Order)
		types[i] = p.ContentType()
	}
	assert.Equal(t, []string{
		"multipart/mixed",
		"multipart/related",
		"multipart/alternative",
		"text/plain",
		"text/html",
		"image/png",
		"text/plain",
	}, types)

	html := parts[4].Text
	assert.Contains(t, html, `src="messages/integration-test@example.com/parts/5"`, "cid reference should be rewritten")
	assert.NotContains(t, html, "<script>", "HTML should be sanitized")

	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), parts[5].Body, "inline image should be decoded")
	assert.True(t, parts[6].Attachment)
	assert.Equal(t, "readme.txt", parts[6].Filename)

	// Step 6: Verify addresses
	addrs, err := testDB.GetMessageAddresses(ctx, "integration-test@example.com")
	require.NoError(t, err)
	require.Len(t, addrs, 3)
	assert.Equal(t, "john.doe@example.com", addrs[0].Email)
	assert.Equal(t, "John Doe", addrs[0].DisplayName)

	addrCount, err := testDB.CountAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, addrCount, "addresses are shared across messages")

	// Step 7: Verify threading
	ancestors, err := testDB.Ancestors(ctx, "reply-1@example.com")
	require.NoError(t, err)
	require.Len(t, ancestors, 1)
	assert.Equal(t, "integration-test@example.com", ancestors[0].MessageID)

	// Step 8: Rank with word and person priorities
	require.NoError(t, testDB.SetWordPriority(ctx, "budget", 10))
	require.NoError(t, testDB.SetPersonPriority(ctx, "jane.smith@example.com", 20))

	ranked, err := testDB.RankMessages(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, "reply-1@example.com", ranked[0].MessageID)
	assert.Equal(t, 30, ranked[0].Score)
	assert.Equal(t, "integration-test@example.com", ranked[1].MessageID)
	assert.Equal(t, 10, ranked[1].Score, "attachment text is not scored")
	assert.Equal(t, "news-1@example.com", ranked[2].MessageID)
	assert.Equal(t, 0, ranked[2].Score, "HTML-only text is not scored")

	// Step 9: Re-run should skip everything
	report2, err := idx.Run(ctx, openStore(t, profile))
	require.NoError(t, err, "Should re-index without error")
	assert.Equal(t, 0, report2.Admitted, "Should not admit duplicates")
	assert.Equal(t, 3, report2.Skipped, "Should skip all existing messages")

	finalCount, err := testDB.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, finalCount, "Count should remain same after re-index")
}

// TestWorkflow_ParserIntegration tests parsing and normalizing the sample message directly
func TestWorkflow_ParserIntegration(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("testdata", "sample.eml"))
	require.NoError(t, err)

	msg, err := parser.Parse(raw)
	require.NoError(t, err, "Should parse sample.eml")
	content.NewNormalizer("/api/messages").Normalize(msg)

	assert.Equal(t, "Integration Test Email", msg.Subject)
	assert.Equal(t, "integration-test@example.com", msg.MessageID)

	text := scoring.PlainText(msg.Root)
	assert.Contains(t, text, "quarterly budget")
	assert.NotContains(t, text, "test attachment file")

	var attachment *parser.Part
	parser.Walk(msg.Root, func(p *parser.Part) {
		if p.Attachment {
			attachment = p
		}
	})
	require.NotNil(t, attachment, "Should have 1 attachment")
	assert.Equal(t, "readme.txt", attachment.Filename)
	assert.Contains(t, attachment.Text, "test attachment file")
}

// TestWorkflow_ErrorRecovery tests that bad records never stop a run
func TestWorkflow_ErrorRecovery(t *testing.T) {
	dir := t.TempDir()

	validEmail := `From: sender@test.com
To: recipient@test.com
Subject: Valid Email
Date: Mon, 1 Jan 2024 10:00:00 +0000
Message-ID: <valid@test.com>
Content-Type: text/plain; charset=utf-8

This is a valid email.
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "valid.eml"), []byte(validEmail), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupted.eml"), []byte("not a valid email"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.mbox"), []byte("garbage before any separator\n"), 0644))

	testDB, err := db.Open(":memory:")
	require.NoError(t, err)
	defer testDB.Close()

	report, err := newIndexer(testDB).Run(context.Background(), openStore(t, dir))
	require.NoError(t, err, "Indexer should handle errors gracefully")

	assert.Equal(t, 1, report.Admitted, "Should admit valid email")
	assert.Equal(t, 2, report.Unreadable, "Should report corrupted records")
	for _, o := range report.UnreadableRecords() {
		assert.ErrorIs(t, o.Err, source.ErrMessageUnreadable)
	}

	count, err := testDB.CountMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count, "Database should contain only valid email")
}

// TestWorkflow_MissingStore tests that an unavailable store is fatal
func TestWorkflow_MissingStore(t *testing.T) {
	_, err := source.Open(filepath.Join(t.TempDir(), "no-profile"), source.Options{})
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)
}

// copyFile is a helper to copy files for testing
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}
