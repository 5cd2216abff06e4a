package publisher

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/roshanshah11/vertexladder/pkg/book"
)

// NATSSink publishes trades and market data as JSON over NATS subjects
// <prefix>.trades, <prefix>.book, <prefix>.best, <prefix>.depth and
// <prefix>.reports. Publishes are async on the NATS client's buffer; a
// broken connection drops events rather than blocking the engine.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	logger book.Logger
}

var _ book.Publisher = (*NATSSink)(nil)

// NewNATSSink connects to a NATS server.
func NewNATSSink(url, subjectPrefix string, logger book.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = book.NopLogger{}
	}
	conn, err := nats.Connect(url,
		nats.Name("vertexladder-publisher"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	if subjectPrefix == "" {
		subjectPrefix = "vertexladder"
	}
	return &NATSSink{conn: conn, prefix: subjectPrefix, logger: logger}, nil
}

// Close flushes and closes the connection.
func (s *NATSSink) Close() {
	if err := s.conn.Flush(); err != nil {
		s.logger.Warn("nats flush failed", "err", err.Error())
	}
	s.conn.Close()
}

func (s *NATSSink) send(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("nats marshal failed", "subject", subject, "err", err.Error())
		return
	}
	if err := s.conn.Publish(s.prefix+"."+subject, data); err != nil {
		s.logger.Warn("nats publish failed", "subject", subject, "err", err.Error())
	}
}

func (s *NATSSink) PublishTrade(t book.Trade)                     { s.send("trades", t) }
func (s *NATSSink) PublishBookUpdate(u book.BookUpdate)           { s.send("book", u) }
func (s *NATSSink) PublishBestPrices(p book.BestPrices)           { s.send("best", p) }
func (s *NATSSink) PublishDepth(d book.MarketDepth)               { s.send("depth", d) }
func (s *NATSSink) PublishExecutionReport(r book.ExecutionReport) { s.send("reports", r) }
