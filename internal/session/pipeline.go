package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tuta-cli/tuta-export/internal/cryptoprim"
	"github.com/tuta-cli/tuta-export/internal/entity"
	"github.com/tuta-cli/tuta-export/internal/errs"
	"github.com/tuta-cli/tuta-export/internal/keys"
	"github.com/tuta-cli/tuta-export/internal/logging"
	"github.com/tuta-cli/tuta-export/internal/paginator"
	"github.com/tuta-cli/tuta-export/internal/transport"
)

// DefaultFanOut is the pipeline's default worker count.
const DefaultFanOut = 8

// Attachment is a decrypted attachment ready for the export writer.
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// MailWriter is the export writer's entry point as seen from the pipeline: given a
// decrypted mail, its body, and its decrypted attachments, serialize one
// message file. Implementations must be safe for concurrent calls.
type MailWriter interface {
	Write(mail *entity.Mail, details *entity.MailDetails, attachments []Attachment) error
}

// ExportResult is the run's final report: counts plus one human-readable
// reason per skipped mail.
type ExportResult struct {
	Exported      int
	Skipped       int
	FailedReasons []string
}

// rawListFetcher adapts the paginator's Fetcher contract to the mail/
// folder list REST endpoints, which both return a JSON array of raw
// entity objects for a (listID, start, count, reverse) query.
type rawListFetcher struct {
	sys        *transport.Client
	entityPath string
}

func (f *rawListFetcher) Fetch(ctx context.Context, listID, startID string, dir paginator.Direction, limit int) ([]json.RawMessage, []string, error) {
	path := fmt.Sprintf("%s/%s?start=%s&count=%d&reverse=%t",
		f.entityPath, listID, url.QueryEscape(startID), limit, dir == paginator.Descending)

	var page []json.RawMessage
	if err := f.sys.Get(ctx, path, &page); err != nil {
		return nil, nil, err
	}
	ids := make([]string, len(page))
	for i, raw := range page {
		id, err := entity.PeekElementID(raw)
		if err != nil {
			return nil, nil, err
		}
		ids[i] = id
	}
	return page, ids, nil
}

// ListFolders fetches the mailbox's folder list and decrypts each
// folder's name under its own owner-group session key.
func (c *Controller) ListFolders(ctx context.Context) ([]*entity.Folder, error) {
	if c.state != StateReady {
		return nil, errs.New(errs.KindAuth, "list folders", &ErrInvalidTransition{From: c.state, Op: "list folders"})
	}

	fetcher := &rawListFetcher{sys: c.sys, entityPath: "folder"}
	var rawFolders []json.RawMessage
	err := c.withReauth(ctx, func() error {
		var err error
		rawFolders, err = paginator.List[json.RawMessage](ctx, fetcher, c.mailbox.FoldersListID, c.PageSize)
		return err
	})
	if err != nil {
		return nil, err
	}

	folders := make([]*entity.Folder, 0, len(rawFolders))
	for _, raw := range rawFolders {
		ownerEncSessionKey, err := entity.PeekOwnerEncSessionKey(raw)
		if err != nil {
			return nil, err
		}
		sessionKey, err := keys.UnwrapOwnerSessionKey(c.mailGroupKey, ownerEncSessionKey)
		if err != nil {
			return nil, err
		}
		folder, _, err := entity.DecodeFolder(raw, sessionKey)
		if err != nil {
			return nil, err
		}
		folders = append(folders, folder)
	}
	return folders, nil
}

// Export resolves folderName to a folder entity and runs the concurrent
// paginate → fetch → decrypt → write pipeline over its mail list.
// fanOut <= 0 selects DefaultFanOut. Per-mail failures are recorded in
// the returned ExportResult and do not abort the export; a cancelled
// context does.
func (c *Controller) Export(ctx context.Context, folderName string, writer MailWriter, fanOut int) (*ExportResult, error) {
	if c.state != StateReady {
		return nil, errs.New(errs.KindAuth, "export", &ErrInvalidTransition{From: c.state, Op: "export"})
	}
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}

	folders, err := c.ListFolders(ctx)
	if err != nil {
		c.state = StateTerminated
		return nil, err
	}

	var target *entity.Folder
	for _, f := range folders {
		if f.Name == folderName {
			target = f
			break
		}
	}
	if target == nil {
		return nil, errs.New(errs.KindConfig, "export", fmt.Errorf("folder %q not found", folderName))
	}

	c.state = StateExporting

	fetcher := &rawListFetcher{sys: c.sys, entityPath: "mail"}
	var rawMails []json.RawMessage
	err = c.withReauth(ctx, func() error {
		var err error
		rawMails, err = paginator.List[json.RawMessage](ctx, fetcher, target.MailsListID, c.PageSize)
		return err
	})
	if err != nil {
		c.state = StateTerminated
		return nil, err
	}

	report, err := c.runPipeline(ctx, rawMails, writer, fanOut)
	if err != nil {
		c.state = StateTerminated
		return report, err
	}
	c.state = StateReady
	return report, nil
}

// runPipeline fans a bounded job channel (capacity 2×fanOut) out to
// fanOut workers, each handling the fetch/decrypt/write chain for
// one mail at a time. Each mail also holds one unit of a semaphore sized
// 2×fanOut for its whole chain; with fanOut workers at most fanOut units
// are ever held, so the semaphore never limits concurrency below the
// worker count, and the network calls inside one mail (details blob,
// attachments) are not counted against it separately.
func (c *Controller) runPipeline(ctx context.Context, rawMails []json.RawMessage, writer MailWriter, fanOut int) (*ExportResult, error) {
	jobs := make(chan json.RawMessage, fanOut*2)
	netSem := semaphore.NewWeighted(int64(fanOut * 2))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for _, raw := range rawMails {
			select {
			case jobs <- raw:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var mu sync.Mutex
	report := &ExportResult{}
	total := len(rawMails)

	for i := 0; i < fanOut; i++ {
		g.Go(func() error {
			for raw := range jobs {
				reason, err := c.processMail(gctx, raw, writer, netSem)
				mu.Lock()
				if err != nil {
					report.Skipped++
					report.FailedReasons = append(report.FailedReasons, reason)
				} else {
					report.Exported++
				}
				done := report.Exported + report.Skipped
				mu.Unlock()
				if done%100 == 0 || done == total {
					logging.Info("exported %d / %d", done, total)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, errs.New(errs.KindCancelled, "export pipeline", err)
	}
	return report, nil
}

// unreadableBodyPlaceholder replaces a body whose field-level decrypt
// failed, so a partially decrypted mail is still written rather than
// dropped.
const unreadableBodyPlaceholder = "[body could not be decrypted]"

// processMail runs the decrypt chain for a single raw mail object:
// resolve its session key, decode the envelope, fetch and decode its
// MailDetails blob, fetch and decrypt each attachment, then hand
// everything to writer. Any failure here is a per-mail skip, never a
// pipeline abort — the caller records the reason and moves on. Field-level
// decrypt failures are softer still: they are logged and the mail is still
// written. An unreadable body is replaced by a placeholder; any other
// failed field is left at its zero value (an empty subject, for example).
func (c *Controller) processMail(ctx context.Context, raw json.RawMessage, writer MailWriter, netSem *semaphore.Weighted) (reason string, err error) {
	elemID, _ := entity.PeekElementID(raw)
	fail := func(err error) (string, error) {
		return fmt.Sprintf("mail %s: %v", elemID, err), err
	}

	if err := netSem.Acquire(ctx, 1); err != nil {
		return fail(err)
	}
	defer netSem.Release(1)

	ownerEncSessionKey, bucketKey, err := entity.PeekMailKeyEnvelope(raw)
	if err != nil {
		return fail(err)
	}
	sessionKey, err := keys.ResolveMailSessionKey(c.mailGroupKey, c.userGroupKey, &entity.Mail{
		OwnerEncSessionKey: ownerEncSessionKey,
		BucketKey:          bucketKey,
	})
	if err != nil {
		return fail(err)
	}

	mail, softMail, err := entity.DecodeMail(raw, sessionKey)
	if err != nil {
		return fail(err)
	}

	var detailsBlob []byte
	err = c.withReauth(ctx, func() error {
		var err error
		detailsBlob, err = c.blob.FetchBlob(ctx, "maildetailsblob", mail.MailDetailsID[0], mail.MailDetailsID[1])
		return err
	})
	if err != nil {
		return fail(err)
	}
	details, softDetails, err := entity.DecodeMailDetailsBlob(detailsBlob, sessionKey)
	if err != nil {
		return fail(err)
	}

	for _, softErr := range append(softMail, softDetails...) {
		var fieldErr *entity.FieldDecryptError
		if errors.As(softErr, &fieldErr) && fieldErr.Field == "compressedText" {
			details.Body = unreadableBodyPlaceholder
			details.BodyIsHTML = false
		}
		logging.Warn("mail %s: %v", elemID, softErr)
	}

	attachments := make([]Attachment, 0, len(mail.AttachmentIDs))
	for _, attID := range mail.AttachmentIDs {
		var att Attachment
		err := c.withReauth(ctx, func() error {
			var err error
			att, err = c.fetchAttachment(ctx, attID)
			return err
		})
		if err != nil {
			return fail(err)
		}
		attachments = append(attachments, att)
	}

	if err := writer.Write(mail, details, attachments); err != nil {
		return fail(err)
	}
	return "", nil
}

func (c *Controller) fetchAttachment(ctx context.Context, id entity.ListID) (Attachment, error) {
	var fileRaw json.RawMessage
	if err := c.sys.Get(ctx, "file/"+id[0]+"/"+id[1], &fileRaw); err != nil {
		return Attachment{}, err
	}

	ownerEncSessionKey, err := entity.PeekOwnerEncSessionKey(fileRaw)
	if err != nil {
		return Attachment{}, err
	}
	fileSessionKey, err := keys.UnwrapOwnerSessionKey(c.mailGroupKey, ownerEncSessionKey)
	if err != nil {
		return Attachment{}, err
	}
	file, _, err := entity.DecodeFile(fileRaw, fileSessionKey)
	if err != nil {
		return Attachment{}, err
	}

	cipherBlob, err := c.blob.FetchBlob(ctx, "fileblob", file.BlobArchiveID, file.BlobID)
	if err != nil {
		return Attachment{}, err
	}
	plain, err := cryptoprim.DecryptValue(fileSessionKey, cipherBlob)
	if err != nil {
		return Attachment{}, err
	}

	return Attachment{Name: file.Name, MimeType: file.MimeType, Data: plain}, nil
}
