package peer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lumenledger/node/foundation/blockchain/crypto"
	"github.com/lumenledger/node/foundation/blockchain/database"
	"github.com/lumenledger/node/foundation/blockchain/merkle"
)

// DefaultTransportTimeout is the per-request HTTP timeout (§5 "All
// HTTP-like requests carry a transport timeout").
const DefaultTransportTimeout = 10 * time.Second

// =============================================================================
// Wire types for every endpoint in §6.

// AnnounceRequest is the bootstrap handshake payload.
type AnnounceRequest struct {
	Address   crypto.Address   `json:"address" validate:"required"`
	URL       string           `json:"url" validate:"required,url"`
	PublicKey crypto.PublicKey `json:"publicKey" validate:"required"`
}

// AnnounceResponse carries the receiving node's identity and known peers
// back to the announcer.
type AnnounceResponse struct {
	Address   crypto.Address   `json:"address"`
	URL       string           `json:"url"`
	PublicKey crypto.PublicKey `json:"publicKey"`
	Peers     []GossipPeer     `json:"peers"`
}

// GossipRequest carries the sender's known peer list.
type GossipRequest struct {
	Peers []GossipPeer `json:"peers"`
}

// GossipResponse carries the receiver's known peer list back.
type GossipResponse struct {
	Peers []GossipPeer `json:"peers"`
}

// ChallengeRequest asks a peer to complete a ReceiptEngine challenge.
type ChallengeRequest struct {
	ChallengeID string         `json:"challengeId" validate:"required"`
	From        crypto.Address `json:"from" validate:"required"`
	Epoch       uint64         `json:"epoch"`
}

// ChallengeResponse carries the signed receipt and the responder's public
// key, needed to verify it.
type ChallengeResponse struct {
	Receipt   database.Receipt `json:"receipt"`
	PublicKey crypto.PublicKey `json:"publicKey"`
}

// ProposeRequest carries a candidate block from the leader to a follower.
type ProposeRequest struct {
	Block database.Block `json:"block"`
}

// ProposeResponse carries back either a vote or equivocation evidence.
type ProposeResponse struct {
	Vote     crypto.Signature `json:"vote,omitempty"`
	Voter    crypto.Address   `json:"voter,omitempty"`
	Evidence *database.Block  `json:"evidence,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// VoteRequest is the standalone asynchronous vote delivery used when a
// follower's vote does not fit in the synchronous ProposeResponse (e.g. a
// late-joining validator voting after catch-up).
type VoteRequest struct {
	BlockHash   string           `json:"blockHash"`
	Voter       crypto.Address   `json:"voter"`
	VoterPubKey crypto.PublicKey `json:"voterPubKey"`
	Signature   crypto.Signature `json:"signature"`
}

// CommitRequest carries a quorum-committed block from the leader.
type CommitRequest struct {
	Block database.Block `json:"block"`
}

// ViewChangeRequest carries one node's vote to advance to newView.
type ViewChangeRequest struct {
	Epoch   uint64         `json:"epoch"`
	OldView uint64         `json:"oldView"`
	NewView uint64         `json:"newView" validate:"gt=0"`
	From    crypto.Address `json:"from" validate:"required"`
}

// TransactionRequest carries a single mempool transaction to a peer.
type TransactionRequest struct {
	Transaction database.Transaction `json:"transaction"`
}

// ChainResponse carries the most recent blocks of a peer's chain (the /chain
// handlers serve at most the last 100), used for catch-up.
type ChainResponse struct {
	Chain []database.Block `json:"chain"`
}

// HeadersResponse carries a peer's recent block headers.
type HeadersResponse struct {
	Headers []database.Block `json:"headers"`
}

// ProofResponse carries a transaction's containing block and Merkle proof.
type ProofResponse struct {
	Block database.Block   `json:"block"`
	Proof []merkle.Sibling `json:"proof"`
}

// BalanceResponse carries one account's public state.
type BalanceResponse struct {
	Address crypto.Address `json:"address"`
	Balance uint64         `json:"balance"`
	Nonce   uint64         `json:"nonce"`
}

// PeerInfo is the minimal identity tuple the /peers endpoint exposes for
// one peer (or self).
type PeerInfo struct {
	Address       crypto.Address `json:"address"`
	URL           string         `json:"url"`
	PublicKeyHash string         `json:"publicKeyHash"`
}

// PeersResponse carries the known peer set, including self, for the
// GET /peers endpoint of §6.
type PeersResponse struct {
	Peers []PeerInfo `json:"peers"`
}

// HealthStats carries the commit-progress counters of §7, surfaced over
// GET /health.
type HealthStats struct {
	ViewChanges        uint64 `json:"viewChanges"`
	SlashEvents        uint64 `json:"slashEvents"`
	BlocksProduced     uint64 `json:"blocksProduced"`
	BlocksCommitted    uint64 `json:"blocksCommitted"`
	ChallengesSent     uint64 `json:"challengesSent"`
	ChallengesReceived uint64 `json:"challengesReceived"`
	ReceiptsVerified   uint64 `json:"receiptsVerified"`
}

// HealthResponse carries node liveness and consensus progress, per the
// GET /health contract of §6.
type HealthResponse struct {
	Status            string         `json:"status"`
	Name              string         `json:"name"`
	Address           crypto.Address `json:"address"`
	Epoch             uint64         `json:"epoch"`
	View              uint64         `json:"view"`
	Phase             string         `json:"phase"`
	ChainLength       int            `json:"chainLength"`
	Peers             int            `json:"peers"`
	Effectiveness     float64        `json:"effectiveness"`
	Balance           uint64         `json:"balance"`
	SlashedNodesCount int            `json:"slashedNodesCount"`
	Stats             HealthStats    `json:"stats"`
}

// =============================================================================
// Transport.

// Transport issues every outbound protocol message over HTTP/1.1 JSON.
// Per-peer call failures are returned to the caller, never panicked on;
// §4.7's "silently tolerated" rule is enforced by callers (Registry,
// worker), not by Transport itself.
type Transport struct {
	client http.Client
}

// NewTransport constructs a Transport with the default transport timeout.
func NewTransport(timeout time.Duration) *Transport {
	if timeout == 0 {
		timeout = DefaultTransportTimeout
	}
	return &Transport{client: http.Client{Timeout: timeout}}
}

func (t *Transport) Announce(url string, req AnnounceRequest) (AnnounceResponse, error) {
	var resp AnnounceResponse
	err := t.send(http.MethodPost, url+"/v1/node/announce", req, &resp)
	return resp, err
}

func (t *Transport) SendGossip(url string, req GossipRequest) (GossipResponse, error) {
	var resp GossipResponse
	err := t.send(http.MethodPost, url+"/v1/node/gossip", req, &resp)
	return resp, err
}

func (t *Transport) SendChallenge(url string, req ChallengeRequest) (ChallengeResponse, error) {
	var resp ChallengeResponse
	err := t.send(http.MethodPost, url+"/v1/node/challenge", req, &resp)
	return resp, err
}

func (t *Transport) SendPropose(url string, req ProposeRequest) (ProposeResponse, error) {
	var resp ProposeResponse
	err := t.send(http.MethodPost, url+"/v1/node/propose", req, &resp)
	return resp, err
}

func (t *Transport) SendVote(url string, req VoteRequest) error {
	return t.send(http.MethodPost, url+"/v1/node/vote", req, nil)
}

func (t *Transport) SendCommit(url string, req CommitRequest) error {
	return t.send(http.MethodPost, url+"/v1/node/commit", req, nil)
}

func (t *Transport) SendViewChange(url string, req ViewChangeRequest) error {
	return t.send(http.MethodPost, url+"/v1/node/view-change", req, nil)
}

func (t *Transport) SendTransaction(url string, req TransactionRequest) error {
	return t.send(http.MethodPost, url+"/v1/node/transaction", req, nil)
}

func (t *Transport) RequestChain(url string) (ChainResponse, error) {
	var resp ChainResponse
	err := t.send(http.MethodGet, url+"/v1/node/chain", nil, &resp)
	return resp, err
}

func (t *Transport) RequestHeaders(url string, limit int) (HeadersResponse, error) {
	var resp HeadersResponse
	err := t.send(http.MethodGet, fmt.Sprintf("%s/v1/node/headers?limit=%d", url, limit), nil, &resp)
	return resp, err
}

func (t *Transport) RequestPeers(url string) (PeersResponse, error) {
	var resp PeersResponse
	err := t.send(http.MethodGet, url+"/v1/node/peers", nil, &resp)
	return resp, err
}

func (t *Transport) RequestHealth(url string) (HealthResponse, error) {
	var resp HealthResponse
	err := t.send(http.MethodGet, url+"/v1/node/health", nil, &resp)
	return resp, err
}

// send marshals dataSend (if any), issues the HTTP request, and decodes
// the response body into dataRecv (if any).
func (t *Transport) send(method, url string, dataSend, dataRecv any) error {
	var body io.Reader
	if dataSend != nil {
		data, err := json.Marshal(dataSend)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return err
	}
	if dataSend != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return errors.New(string(msg))
	}

	if dataRecv != nil {
		if err := json.NewDecoder(resp.Body).Decode(dataRecv); err != nil {
			return err
		}
	}

	return nil
}
