package wal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"go.uber.org/zap"
)

const (
	standbyMessageTimeout = 10 * time.Second
	reconnectDelay        = 5 * time.Second
)

// Handler receives the payload of each wal2json message.
type Handler func(ctx context.Context, data []byte) error

// Stream reads a wal2json logical replication slot and hands each message
// to a Handler, reconnecting on failure until its context ends.
type Stream struct {
	// Conn is a postgres connection string; replication=database is added.
	Conn string
	Slot string
	// CreateSlot creates Slot as a temporary wal2json slot on every
	// connection.
	CreateSlot bool
	Logger     *zap.Logger
}

func (s *Stream) Run(ctx context.Context, handle Handler) error {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	for {
		err := s.connectAndRead(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		s.Logger.Warn("replication connection failed, reconnecting",
			zap.Error(err), zap.Duration("delay", reconnectDelay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func replicationConnString(conn string) string {
	return conn + " replication=database"
}

func (s *Stream) connectAndRead(ctx context.Context, handle Handler) error {
	conn, err := pgconn.Connect(ctx, replicationConnString(s.Conn))
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	sys, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		return err
	}
	s.Logger.Info("identified postgres system",
		zap.String("system_id", sys.SystemID),
		zap.Int32("timeline", sys.Timeline),
		zap.String("xlogpos", sys.XLogPos.String()),
		zap.String("dbname", sys.DBName))

	if s.CreateSlot {
		_, err := pglogrepl.CreateReplicationSlot(ctx, conn, s.Slot, "wal2json",
			pglogrepl.CreateReplicationSlotOptions{Temporary: true})
		if err != nil {
			return fmt.Errorf("create slot %s: %w", s.Slot, err)
		}
	}

	err = pglogrepl.StartReplication(ctx, conn, s.Slot, sys.XLogPos,
		pglogrepl.StartReplicationOptions{PluginArgs: []string{"\"pretty-print\" 'false'"}})
	if err != nil {
		return err
	}
	s.Logger.Info("logical replication started", zap.String("slot", s.Slot))

	var lastLSN pglogrepl.LSN
	nextStandbyMessageDeadline := time.Now().Add(standbyMessageTimeout)

	for {
		if time.Now().After(nextStandbyMessageDeadline) && lastLSN != 0 {
			err = pglogrepl.SendStandbyStatusUpdate(ctx, conn, pglogrepl.StandbyStatusUpdate{WALWritePosition: lastLSN})
			if err != nil {
				return fmt.Errorf("standby status update: %w", err)
			}
			nextStandbyMessageDeadline = time.Now().Add(standbyMessageTimeout)
		}

		recvCtx, cancel := context.WithDeadline(ctx, nextStandbyMessageDeadline)
		rawMsg, err := conn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
				continue
			}
			return err
		}

		if errMsg, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
			return fmt.Errorf("postgres wal error: %s", errMsg.Message)
		}

		msg, ok := rawMsg.(*pgproto3.CopyData)
		if !ok || len(msg.Data) == 0 {
			continue
		}

		switch msg.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
			if err != nil {
				s.Logger.Warn("bad keepalive message", zap.Error(err))
				continue
			}
			if pkm.ReplyRequested {
				nextStandbyMessageDeadline = time.Time{}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
			if err != nil {
				s.Logger.Warn("bad xlog data", zap.Error(err))
				continue
			}
			if err := handle(ctx, xld.WALData); err != nil {
				s.Logger.Warn("wal message not fully handled", zap.Error(err))
			}
			lastLSN = xld.WALStart + pglogrepl.LSN(len(xld.WALData))
		}
	}
}
