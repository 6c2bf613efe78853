package api

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/Ceesaxp/polymarket-copy-trading-bot/models"
)

// CTF Exchange contract on Polygon, the source of OrderFilled logs.
var ctfExchangeAddress = common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")

// orderFilledSig is the OrderFilled event topic.
var orderFilledSig = crypto.Keccak256Hash([]byte(
	"OrderFilled(bytes32,address,address,uint256,uint256,uint256,uint256,uint256)"))

const (
	wsReadLimit      = 1 << 21
	wsPingInterval   = 30 * time.Second
	wsReconnectBase  = time.Second
	wsReconnectCap   = 30 * time.Second
	microUnitDivisor = 1e6
)

// TopicSource supplies the maker-address topic filters for the log
// subscription. The reloadable follow list implements it.
type TopicSource interface {
	Topics() []string
}

// PolygonWS subscribes to CTF Exchange fill logs over a Polygon RPC
// websocket and emits parsed whale trades. It reconnects with backoff
// and resubscribes with fresh topics after a follow-list reload.
type PolygonWS struct {
	url    string
	topics TopicSource
	out    chan models.WhaleTrade

	mu      sync.Mutex
	conn    *websocket.Conn
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPolygonWS builds the event source. Events appear on Trades().
func NewPolygonWS(url string, topics TopicSource) *PolygonWS {
	return &PolygonWS{
		url:    url,
		topics: topics,
		out:    make(chan models.WhaleTrade, 256),
		stopCh: make(chan struct{}),
	}
}

// Trades is the parsed event stream. Closed on Stop.
func (w *PolygonWS) Trades() <-chan models.WhaleTrade { return w.out }

// Start launches the connect/read loop.
func (w *PolygonWS) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop closes the connection and the trade channel.
func (w *PolygonWS) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	if w.conn != nil {
		w.conn.Close()
	}
	w.mu.Unlock()

	w.wg.Wait()
	close(w.out)
}

// Kick drops the current connection so the run loop redials and
// resubscribes with the current follow-list topics. Called after a
// reload changes the set.
func (w *PolygonWS) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
	}
}

func (w *PolygonWS) run(ctx context.Context) {
	defer w.wg.Done()

	backoff := wsReconnectBase
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connectAndRead(ctx); err != nil {
			select {
			case <-w.stopCh:
				return
			default:
			}
			log.Printf("[PolygonWS] connection lost: %v (retry in %s)", err, backoff)
			select {
			case <-time.After(backoff):
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > wsReconnectCap {
				backoff = wsReconnectCap
			}
			continue
		}
		backoff = wsReconnectBase
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcNotification struct {
	Method string `json:"method"`
	Params struct {
		Result rawLog `json:"result"`
	} `json:"params"`
}

type rawLog struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TransactionHash string   `json:"transactionHash"`
	Removed         bool     `json:"removed"`
}

func (w *PolygonWS) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, w.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}
	conn.SetReadLimit(wsReadLimit)

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
		conn.Close()
	}()

	if err := w.subscribe(conn); err != nil {
		return err
	}
	log.Printf("[PolygonWS] subscribed to OrderFilled logs for %d traders", len(w.topics.Topics()))

	pingStop := make(chan struct{})
	defer close(pingStop)
	go func() {
		t := time.NewTicker(wsPingInterval)
		defer t.Stop()
		for {
			select {
			case <-pingStop:
				return
			case <-t.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		w.handleMessage(msg)
	}
}

// subscribe filters on the exchange address, the OrderFilled topic,
// and each followed maker address in topic position 2.
func (w *PolygonWS) subscribe(conn *websocket.Conn) error {
	makerTopics := w.topics.Topics()
	padded := make([]string, len(makerTopics))
	for i, t := range makerTopics {
		padded[i] = "0x" + t
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params: []interface{}{
			"logs",
			map[string]interface{}{
				"address": ctfExchangeAddress.Hex(),
				"topics": []interface{}{
					orderFilledSig.Hex(),
					nil,    // orderHash
					padded, // maker
				},
			},
		},
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (w *PolygonWS) handleMessage(msg []byte) {
	var note rpcNotification
	if err := json.Unmarshal(msg, &note); err != nil {
		return
	}
	if note.Method != "eth_subscription" || note.Params.Result.Removed {
		return
	}
	trade, err := ParseOrderFilled(note.Params.Result)
	if err != nil {
		log.Printf("[PolygonWS] unparseable log in %s: %v", note.Params.Result.TransactionHash, err)
		return
	}

	select {
	case w.out <- trade:
	default:
		// A full buffer means downstream is badly stalled. Dropping
		// beats blocking the read loop into a server disconnect.
		log.Printf("[PolygonWS] event buffer full, dropping trade %s", trade.TxHash)
	}
}

// ParseOrderFilled decodes one OrderFilled log into a WhaleTrade. The
// zero asset id marks the cash leg: a maker paying cash is buying
// tokens, a maker paying tokens is selling them.
func ParseOrderFilled(l rawLog) (models.WhaleTrade, error) {
	if len(l.Topics) < 3 {
		return models.WhaleTrade{}, fmt.Errorf("want 3+ topics, got %d", len(l.Topics))
	}
	maker := common.HexToAddress(l.Topics[2])

	words, err := dataWords(l.Data, 4)
	if err != nil {
		return models.WhaleTrade{}, err
	}
	makerAssetID, takerAssetID := words[0], words[1]
	makerAmount := toFloat(words[2])
	takerAmount := toFloat(words[3])

	trade := models.WhaleTrade{
		TxHash:        l.TransactionHash,
		TraderAddress: strings.TrimPrefix(strings.ToLower(maker.Hex()), "0x"),
		Timestamp:     time.Now(),
	}
	if bn, ok := new(big.Int).SetString(strings.TrimPrefix(l.BlockNumber, "0x"), 16); ok {
		trade.BlockNumber = bn.Uint64()
	}

	if makerAssetID.Sign() == 0 {
		// Maker gave cash for tokens.
		if takerAmount <= 0 {
			return models.WhaleTrade{}, fmt.Errorf("buy with zero token amount")
		}
		trade.Side = models.SideBuy
		trade.TokenID = takerAssetID.String()
		trade.Shares = takerAmount / microUnitDivisor
		trade.Price = makerAmount / takerAmount
	} else {
		if makerAmount <= 0 {
			return models.WhaleTrade{}, fmt.Errorf("sell with zero token amount")
		}
		trade.Side = models.SideSell
		trade.TokenID = makerAssetID.String()
		trade.Shares = makerAmount / microUnitDivisor
		trade.Price = takerAmount / makerAmount
	}

	if trade.Price <= 0 || trade.Price >= 1 {
		return models.WhaleTrade{}, fmt.Errorf("implied price %.4f out of range", trade.Price)
	}
	return trade, nil
}

// dataWords splits hex log data into 32-byte big.Int words.
func dataWords(data string, want int) ([]*big.Int, error) {
	hexStr := strings.TrimPrefix(data, "0x")
	if len(hexStr) < want*64 {
		return nil, fmt.Errorf("data too short: %d hex chars, want %d", len(hexStr), want*64)
	}
	words := make([]*big.Int, want)
	for i := 0; i < want; i++ {
		word, ok := new(big.Int).SetString(hexStr[i*64:(i+1)*64], 16)
		if !ok {
			return nil, fmt.Errorf("bad word %d", i)
		}
		words[i] = word
	}
	return words, nil
}

func toFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
