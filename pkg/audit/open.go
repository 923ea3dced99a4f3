package audit

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/polisai/polis-dlp/pkg/config"
)

// Open builds the sink described by cfg. Several configured sinks are
// combined into a MultiSink; none yields Discard.
func Open(ctx context.Context, cfg config.AuditConfig, stdout io.Writer) (Sink, error) {
	var sinks MultiSink
	fail := func(err error) (Sink, error) {
		return nil, errors.Join(err, sinks.Close())
	}

	for _, kind := range cfg.Sinks {
		switch kind {
		case config.AuditSinkFile:
			s, err := NewFileSink(cfg.Path)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, s)
		case config.AuditSinkStdout:
			sinks = append(sinks, NewWriterSink(stdout))
		case config.AuditSinkRedis:
			s, err := DialRedisSink(ctx, cfg.Redis.URL, cfg.Redis.Key)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, s)
		default:
			return fail(fmt.Errorf("unknown audit sink %q", kind))
		}
	}

	switch len(sinks) {
	case 0:
		return Discard{}, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}
