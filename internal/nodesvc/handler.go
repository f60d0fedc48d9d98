package nodesvc

import (
	"errors"
	"net"

	"go.uber.org/zap"

	"github.com/tinycoin/tinycoin/internal/keys"
	"github.com/tinycoin/tinycoin/internal/ledger"
	"github.com/tinycoin/tinycoin/internal/metrics"
	"github.com/tinycoin/tinycoin/internal/primitives"
	"github.com/tinycoin/tinycoin/internal/wire"
)

// HandleConnection services one inbound connection until it errors or the
// other side closes it. Inbound connections are request/reply sockets —
// wallets fetching UTXOs or templates, miners submitting work, peers
// relaying a single gossip message — not gossip peers themselves; the
// peer registry (and therefore broadcast and PeersConnected) only ever
// holds the outbound connections this node dialed during bootstrap.
func (s *Service) HandleConnection(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	defer conn.Close()

	log := s.logger.With(zap.String("peer", addr))
	log.Info("connection accepted")

	for {
		msg, err := wire.Recv(conn)
		if err != nil {
			log.Debug("connection closed", zap.Error(err))
			return
		}

		if !s.dispatch(conn, log, msg) {
			return
		}
	}
}

// dispatch handles one message and reports whether the connection should
// stay open.
func (s *Service) dispatch(conn net.Conn, log *zap.Logger, msg wire.Message) bool {
	switch m := msg.(type) {
	case *wire.UTXOs, *wire.Template, *wire.Difference, *wire.TemplateValidity, *wire.NodeList:
		log.Warn("peer sent a reply-only message", zap.String("tag", msg.Tag().String()))
		return false

	case *wire.FetchBlock:
		var block ledger.Block
		var ok bool
		s.withReadLock(func(c *ledger.ChainState) {
			blocks := c.Blocks()
			if m.Height < uint64(len(blocks)) {
				block, ok = blocks[m.Height], true
			}
		})
		if !ok {
			return false
		}
		return s.reply(conn, log, &wire.NewBlock{Block: block})

	case *wire.DiscoverNodes:
		return s.reply(conn, log, &wire.NodeList{Addresses: s.peers.Addresses()})

	case *wire.AskDifference:
		var delta int32
		s.withReadLock(func(c *ledger.ChainState) {
			delta = int32(c.BlockHeight()) - int32(m.Height)
		})
		return s.reply(conn, log, &wire.Difference{Delta: delta})

	case *wire.FetchUTXOs:
		var entries []wire.UTXOEntry
		s.withReadLock(func(c *ledger.ChainState) {
			entries = collectUTXOs(c, m.Owner)
		})
		return s.reply(conn, log, &wire.UTXOs{Entries: entries})

	case *wire.NewBlock:
		// Unlike SubmitTemplate, a gossiped NewBlock does not rebuild the
		// UTXO set here; the set is refreshed by the next SubmitTemplate
		// or by a future bootstrap sync.
		var err error
		s.withWriteLock(func(c *ledger.ChainState) { err = c.AddBlock(m.Block) })
		if err != nil {
			log.Warn("block rejected", zap.Error(err))
		} else {
			s.onBlockAccepted(log)
		}
		return true

	case *wire.NewTransaction:
		var err error
		s.withWriteLock(func(c *ledger.ChainState) { err = c.AddToMempool(m.Tx) })
		if err != nil {
			log.Warn("transaction rejected, closing connection", zap.Error(err))
			metrics.TransactionsRejected.WithLabelValues(rejectKind(err)).Inc()
			return false
		}
		metrics.TransactionsAccepted.Inc()
		return true

	case *wire.ValidateTemplate:
		var valid bool
		s.withReadLock(func(c *ledger.ChainState) {
			valid = isValidPrevHash(c, m.Block.Header.PrevBlockHash)
		})
		return s.reply(conn, log, &wire.TemplateValidity{Valid: valid})

	case *wire.SubmitTemplate:
		var err error
		s.withWriteLock(func(c *ledger.ChainState) {
			err = c.AddBlock(m.Block)
			if err == nil {
				c.RebuildUTXOs()
			}
		})
		if err != nil {
			log.Warn("mined block rejected, closing connection", zap.Error(err))
			metrics.BlocksRejected.WithLabelValues(rejectKind(err)).Inc()
			return false
		}
		s.onBlockAccepted(log)
		s.broadcast(log, &wire.NewBlock{Block: m.Block}, addrOf(conn))
		return true

	case *wire.SubmitTransaction:
		var err error
		s.withWriteLock(func(c *ledger.ChainState) { err = c.AddToMempool(m.Tx) })
		if err != nil {
			log.Warn("submitted transaction rejected, closing connection", zap.Error(err))
			metrics.TransactionsRejected.WithLabelValues(rejectKind(err)).Inc()
			return false
		}
		metrics.TransactionsAccepted.Inc()
		metrics.MempoolSize.Inc()
		s.broadcast(log, &wire.NewTransaction{Tx: m.Tx}, addrOf(conn))
		return true

	case *wire.FetchTemplate:
		block := s.buildTemplate(m.Miner)
		return s.reply(conn, log, &wire.Template{Block: block})

	default:
		log.Warn("unhandled message tag", zap.String("tag", msg.Tag().String()))
		return false
	}
}

func (s *Service) reply(conn net.Conn, log *zap.Logger, msg wire.Message) bool {
	if err := wire.Send(conn, msg); err != nil {
		log.Warn("failed to send reply, closing connection", zap.Error(err))
		return false
	}
	return true
}

// broadcast sends msg to every registered peer except exclude (the
// connection the triggering message arrived on, which already has its own
// copy via the direct reply path where applicable). A send failure to one
// peer is logged and does not stop the broadcast to the rest.
func (s *Service) broadcast(log *zap.Logger, msg wire.Message, exclude string) {
	s.peers.Each(func(addr string, p *peer) {
		if addr == exclude {
			return
		}
		p.writeMu.Lock()
		defer p.writeMu.Unlock()
		if err := wire.Send(p.conn, msg); err != nil {
			log.Warn("broadcast to peer failed", zap.String("target", addr), zap.Error(err))
		}
	})
}

func (s *Service) onBlockAccepted(log *zap.Logger) {
	var height uint64
	var target primitives.U256
	s.withReadLock(func(c *ledger.ChainState) {
		height = c.BlockHeight()
		target = c.Target()
	})
	metrics.BlocksAccepted.Inc()
	metrics.ChainHeight.Set(float64(height))
	metrics.Target.Set(float64(target.Int().BitLen() - 1))
	log.Info("block accepted", zap.Uint64("height", height))
	if height%ledger.DifficultyUpdateInterval == 0 {
		metrics.RetargetEvents.Inc()
		log.Info("difficulty retargeted", zap.Uint64("height", height), zap.Stringer("target", target))
	}
}

func (s *Service) refreshPeerGauge() {
	metrics.PeersConnected.Set(float64(len(s.peers.Addresses())))
}

func collectUTXOs(c *ledger.ChainState, owner keys.PublicKey) []wire.UTXOEntry {
	var entries []wire.UTXOEntry
	c.ForEachUTXO(func(_ primitives.Hash, output ledger.TransactionOutput, marked bool) {
		if output.Pubkey.Equal(owner) {
			entries = append(entries, wire.UTXOEntry{Output: output, Marked: marked})
		}
	})
	return entries
}

func isValidPrevHash(c *ledger.ChainState, prevHash primitives.Hash) bool {
	blocks := c.Blocks()
	if len(blocks) == 0 {
		return prevHash == primitives.ZeroHash
	}
	return prevHash == blocks[len(blocks)-1].Hash()
}

func rejectKind(err error) string {
	var ve *ledger.ValidationError
	if errors.As(err, &ve) {
		return ve.Kind.Error()
	}
	return "unknown"
}

func addrOf(conn net.Conn) string {
	return conn.RemoteAddr().String()
}
