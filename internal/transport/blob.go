package transport

import (
	"context"
	"fmt"

	"github.com/tuta-cli/tuta-export/internal/errs"
)

// BlobReadRequest names the archive whose access token is being
// requested; the instance list and ids are left empty since every
// export only ever reads one archive at a time.
type BlobReadRequest struct {
	ArchiveID string `json:"archiveId"`
}

type blobAccessTokenRequest struct {
	Read BlobReadRequest `json:"read"`
}

type blobServer struct {
	URL string `json:"url"`
}

type blobAccessInfo struct {
	BlobAccessToken string       `json:"blobAccessToken"`
	Servers         []blobServer `json:"servers"`
}

type blobAccessTokenResponse struct {
	BlobAccessInfo blobAccessInfo `json:"blobAccessInfo"`
}

// BlobClient fetches mail-details and attachment blobs, which live on a
// separate storage service fronted by its own short-lived access token
// obtained through the blobaccesstokenservice exchange.
type BlobClient struct {
	sys *Client
}

// NewBlobClient wraps a system-service Client already carrying the
// session's accessToken.
func NewBlobClient(sys *Client) *BlobClient {
	return &BlobClient{sys: sys}
}

// FetchBlob downloads the single blob identified by (archiveID, blobID)
// under servicePath (e.g. "maildetailsblob" or "fileblob").
func (b *BlobClient) FetchBlob(ctx context.Context, servicePath, archiveID, blobID string) ([]byte, error) {
	var tokenResp blobAccessTokenResponse
	err := b.sys.Post(ctx, "blobaccesstokenservice", blobAccessTokenRequest{
		Read: BlobReadRequest{ArchiveID: archiveID},
	}, &tokenResp)
	if err != nil {
		return nil, errs.New(errs.KindNetwork, "request blob access token", err)
	}

	servers := tokenResp.BlobAccessInfo.Servers
	if len(servers) == 0 {
		return nil, errs.New(errs.KindNetwork, "request blob access token", fmt.Errorf("no blob servers offered"))
	}

	url := fmt.Sprintf("%s/rest/storage/%s/%s/%s?blobAccessToken=%s",
		servers[0].URL, servicePath, archiveID, blobID, tokenResp.BlobAccessInfo.BlobAccessToken)

	data, err := b.sys.GetRawURL(ctx, url)
	if err != nil {
		return nil, err
	}
	return data, nil
}
