package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitegen/internal/bundle"
	"github.com/JakeFAU/sitegen/internal/crawler"
)

// Inputs locates the build output a pass consumes.
type Inputs struct {
	StatsFile  string
	Dir        string
	AssetsGlob string
	PublicPath string
}

// Builder runs one pass per call: it loads the build output from disk,
// drives the generator and reports the pass to the manifest store and the
// publisher.
type Builder struct {
	inputs    Inputs
	generator *crawler.Generator
	manifest  crawler.ManifestStore
	publisher crawler.Publisher
	topic     string
	hasher    crawler.Hasher
	clock     crawler.Clock
	logger    *zap.Logger

	mu     sync.Mutex
	onPass []func(*crawler.Pass)
}

// NewBuilder wires a Builder. manifest and publisher are optional; nothing is
// published while topic is empty.
func NewBuilder(
	inputs Inputs,
	generator *crawler.Generator,
	manifest crawler.ManifestStore,
	publisher crawler.Publisher,
	topic string,
	hasher crawler.Hasher,
	clock crawler.Clock,
	logger *zap.Logger,
) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if inputs.AssetsGlob == "" {
		inputs.AssetsGlob = bundle.DefaultAssetsGlob
	}
	return &Builder{
		inputs:    inputs,
		generator: generator,
		manifest:  manifest,
		publisher: publisher,
		topic:     topic,
		hasher:    hasher,
		clock:     clock,
		logger:    logger,
	}
}

// OnPass registers fn to run after every pass, in registration order.
func (b *Builder) OnPass(fn func(*crawler.Pass)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPass = append(b.onPass, fn)
}

// Build runs one pass. The error is non-nil only when the build output
// cannot be loaded; render failures are reported through the pass's error
// log. Manifest and publish failures are logged and do not fail the pass.
func (b *Builder) Build(ctx context.Context) (*crawler.Pass, error) {
	stats, err := bundle.LoadStats(b.inputs.StatsFile)
	if err != nil {
		return nil, fmt.Errorf("load build output: %w", err)
	}
	assets, err := bundle.LoadAssets(b.inputs.Dir, b.inputs.AssetsGlob)
	if err != nil {
		return nil, fmt.Errorf("load build output: %w", err)
	}
	b.logger.Debug("build output loaded",
		zap.Int("chunks", stats.Chunks.Len()),
		zap.Int("assets", len(assets)),
	)

	pass := b.generator.Run(ctx, stats.Build(assets, b.inputs.PublicPath))

	if b.manifest != nil {
		record, err := b.record(pass)
		if err == nil {
			err = b.manifest.RecordPass(ctx, record)
		}
		if err != nil {
			b.logger.Warn("record pass failed", zap.String("pass_id", pass.ID), zap.Error(err))
		}
	}
	if b.publisher != nil && b.topic != "" {
		msgID, err := b.publisher.Publish(ctx, b.topic, pass.Summary())
		if err != nil {
			b.logger.Warn("publish pass failed", zap.String("pass_id", pass.ID), zap.Error(err))
		} else {
			b.logger.Debug("pass published", zap.String("pass_id", pass.ID), zap.String("message_id", msgID))
		}
	}

	b.mu.Lock()
	hooks := append(([]func(*crawler.Pass))(nil), b.onPass...)
	b.mu.Unlock()
	for _, fn := range hooks {
		fn(pass)
	}
	return pass, nil
}

func (b *Builder) record(pass *crawler.Pass) (crawler.PassRecord, error) {
	record := crawler.PassRecord{
		Summary:    pass.Summary(),
		Outputs:    make([]crawler.OutputRecord, 0, len(pass.Written)),
		ErrorTexts: pass.Errors.Messages(),
		RecordedAt: b.clock.Now(),
	}
	for _, slot := range pass.Written {
		content, _ := pass.Outputs.Get(slot)
		sum, err := b.hasher.Hash([]byte(content))
		if err != nil {
			return crawler.PassRecord{}, fmt.Errorf("hash %s: %w", slot, err)
		}
		record.Outputs = append(record.Outputs, crawler.OutputRecord{
			Slot:  slot,
			Hash:  sum,
			Bytes: len(content),
			URI:   pass.Outputs.URI(slot),
		})
	}
	return record, nil
}
