package events

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/uhyunpark/carbonledger/pkg/app/core/ledger"
	"github.com/uhyunpark/carbonledger/pkg/consensus"
)

const version = 1

// Event is the envelope written to the topic. Exactly one payload is set.
type Event struct {
	V     int         `json:"v"`
	Type  string      `json:"type"` // "trade" | "block"
	Seq   uint64      `json:"seq"`
	Trade *TradeEvent `json:"trade,omitempty"`
	Block *BlockEvent `json:"block,omitempty"`
}

// TradeEvent carries integers as decimal strings
type TradeEvent struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	BuyOrderID  uint64 `json:"buyOrderId,omitempty"`
	SellOrderID uint64 `json:"sellOrderId,omitempty"`
	ListingID   uint64 `json:"listingId,omitempty"`
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	Price       string `json:"price"`
	Amount      string `json:"amount"`
	Quote       string `json:"quote"`
	TakerSide   string `json:"takerSide"`
	Timestamp   int64  `json:"timestamp"`
}

type BlockEvent struct {
	Height  uint64 `json:"height"`
	Hash    string `json:"hash"`
	AppHash string `json:"appHash"`
	Txs     int    `json:"txs"`
	Time    int64  `json:"time"`
}

// Publisher streams trades and committed blocks to Kafka.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.SugaredLogger
}

// NewKafkaPublisher dials brokers with a synchronous, fully acknowledged producer.
func NewKafkaPublisher(brokers []string, topic string, log *zap.SugaredLogger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewPublisher(producer, topic, log), nil
}

func NewPublisher(producer sarama.SyncProducer, topic string, log *zap.SugaredLogger) *Publisher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Publisher{producer: producer, topic: topic, log: log}
}

func NewTradeEvent(t ledger.Trade) *TradeEvent {
	return &TradeEvent{
		ID:          t.ID,
		Kind:        string(t.Kind),
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		ListingID:   t.ListingID,
		Buyer:       t.Buyer.Hex(),
		Seller:      t.Seller.Hex(),
		Price:       t.Price.String(),
		Amount:      t.Amount.String(),
		Quote:       t.Quote.String(),
		TakerSide:   t.TakerSide.String(),
		Timestamp:   t.Timestamp,
	}
}

// PublishTrade is keyed by buyer so one account's fills stay in partition order.
func (p *Publisher) PublishTrade(t ledger.Trade) error {
	ev := Event{V: version, Type: "trade", Seq: t.Seq, Trade: NewTradeEvent(t)}
	return p.send(t.Buyer.Hex(), ev)
}

func (p *Publisher) PublishBlock(b consensus.Block, c consensus.Certificate) error {
	ev := Event{V: version, Type: "block", Seq: uint64(b.Height), Block: &BlockEvent{
		Height:  uint64(b.Height),
		Hash:    c.H.Hex(),
		AppHash: b.AppHash.Hex(),
		Txs:     len(b.Txs),
		Time:    b.Time.UnixMilli(),
	}}
	return p.send("block", ev)
}

func (p *Publisher) send(key string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		p.log.Warnw("event_publish_failed", "type", ev.Type, "seq", ev.Seq, "err", err)
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	p.log.Debugw("event_published", "type", ev.Type, "seq", ev.Seq, "partition", partition, "offset", offset)
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
