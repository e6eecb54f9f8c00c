// Package writer persists fills for post-trade analysis: parquet files
// to S3 on a flush interval and, when enabled, a live Kafka stream.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	kafka "github.com/segmentio/kafka-go"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "quoteflow/config"
	"quoteflow/logger"
	"quoteflow/models"
)

// fillParquetRecord defines the parquet schema for recorded fills.
type fillParquetRecord struct {
	Symbol   string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	OrderID  string  `parquet:"name=order_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side     string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price    float64 `parquet:"name=price, type=DOUBLE"`
	Quantity float64 `parquet:"name=quantity, type=DOUBLE"`
	ExecTime int64   `parquet:"name=exec_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	RecvTime int64   `parquet:"name=recv_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// in-memory parquet sink, avoids temp files before the S3 upload
type memFileWriter struct{ buffer *bytes.Buffer }

func newMemFileWriter() *memFileWriter { return &memFileWriter{buffer: &bytes.Buffer{}} }

func (m *memFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFileWriter) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFileWriter) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFileWriter) Read([]byte) (int, error)                  { return 0, nil }
func (m *memFileWriter) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFileWriter) Close() error                              { return nil }
func (m *memFileWriter) Bytes() []byte                             { return m.buffer.Bytes() }

// FillRecorder consumes fill records, streams them to Kafka when enabled
// and batches them into parquet files on S3.
type FillRecorder struct {
	cfg         *appconfig.Config
	fills       <-chan models.FillRecord
	s3Client    *s3.Client
	kafkaWriter *kafka.Writer
	buffer      []models.FillRecord
	mu          sync.Mutex
	flushTicker *time.Ticker
	ctx         context.Context
	wg          *sync.WaitGroup
	running     bool
	log         *logger.Log
}

// NewFillRecorder builds the recorder. Either sink may be disabled in
// config; with both disabled the recorder just drains the channel.
func NewFillRecorder(cfg *appconfig.Config, fills <-chan models.FillRecord) (*FillRecorder, error) {
	log := logger.GetLogger()
	r := &FillRecorder{
		cfg:   cfg,
		fills: fills,
		wg:    &sync.WaitGroup{},
		log:   log,
	}

	if cfg.Storage.S3.Enabled {
		ctx := context.Background()
		loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Storage.S3.Region)}
		if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(
					cfg.Storage.S3.AccessKeyID,
					cfg.Storage.S3.SecretAccessKey,
					"",
				)))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		r.s3Client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Storage.S3.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
			}
			o.UsePathStyle = cfg.Storage.S3.PathStyle
		})
	}

	if cfg.Storage.Kafka.Enabled {
		r.kafkaWriter = &kafka.Writer{
			Addr:     kafka.TCP(cfg.Storage.Kafka.Brokers...),
			Topic:    cfg.Storage.Kafka.Topic,
			Balancer: &kafka.LeastBytes{},
		}
	}

	log.WithComponent("fill_recorder").WithFields(logger.Fields{
		"s3_enabled":    cfg.Storage.S3.Enabled,
		"kafka_enabled": cfg.Storage.Kafka.Enabled,
	}).Info("fill recorder initialized")
	return r, nil
}

// Start launches the consumer and the flush loop.
func (r *FillRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("fill recorder already running")
	}
	r.running = true
	r.ctx = ctx
	interval := time.Duration(r.cfg.Storage.S3.FlushInterval)
	if interval <= 0 {
		interval = time.Minute
	}
	r.flushTicker = time.NewTicker(interval)
	r.mu.Unlock()

	r.wg.Add(1)
	go r.worker()

	r.wg.Add(1)
	go r.flushLoop()

	r.log.WithComponent("fill_recorder").Info("fill recorder started")
	return nil
}

// Stop drains workers and flushes the remaining buffer.
func (r *FillRecorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}
	r.wg.Wait()
	r.flush()
	if r.kafkaWriter != nil {
		r.kafkaWriter.Close()
	}
	r.log.WithComponent("fill_recorder").Info("fill recorder stopped")
}

func (r *FillRecorder) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case rec, ok := <-r.fills:
			if !ok {
				return
			}
			r.addRecord(rec)
		}
	}
}

func (r *FillRecorder) addRecord(rec models.FillRecord) {
	if r.kafkaWriter != nil {
		r.publish(rec)
	}
	if r.s3Client == nil {
		return
	}
	r.mu.Lock()
	r.buffer = append(r.buffer, rec)
	r.mu.Unlock()
}

func (r *FillRecorder) publish(rec models.FillRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		r.log.WithComponent("fill_recorder").WithError(err).Warn("failed to marshal fill")
		return
	}
	msg := kafka.Message{
		Key:   []byte(rec.Symbol),
		Value: data,
	}
	if err := r.kafkaWriter.WriteMessages(r.ctx, msg); err != nil {
		r.log.WithComponent("fill_recorder").WithError(err).Warn("failed to write fill to kafka")
	}
}

func (r *FillRecorder) flushLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			r.flush()
			return
		case <-r.flushTicker.C:
			r.flush()
		}
	}
}

func (r *FillRecorder) flush() {
	r.mu.Lock()
	records := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	if len(records) == 0 || r.s3Client == nil {
		return
	}

	start := time.Now()
	data, err := r.createParquet(records)
	if err != nil {
		r.log.WithComponent("fill_recorder").WithError(err).Error("create parquet failed")
		return
	}
	key := r.s3Key(records[0].Symbol, start)
	if err := r.upload(key, data); err != nil {
		r.log.WithComponent("fill_recorder").WithError(err).Error("upload to s3 failed")
		return
	}

	r.log.WithComponent("fill_recorder").WithFields(logger.Fields{
		"s3_key":      key,
		"records":     len(records),
		"bytes":       len(data),
		"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
	}).Info("fill batch uploaded")
	logger.LogDataFlowEntry(r.log.WithComponent("fill_recorder"), "fill_channel", "s3_table", len(records), "fills")
	logger.IncrementFillWrite(int64(len(data)))
}

func (r *FillRecorder) createParquet(records []models.FillRecord) ([]byte, error) {
	mw := newMemFileWriter()
	pw, err := writer.NewParquetWriter(mw, new(fillParquetRecord), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, rec := range records {
		row := fillParquetRecord{
			Symbol:   rec.Symbol,
			OrderID:  rec.OrderID,
			Side:     rec.Side,
			Price:    rec.Price,
			Quantity: rec.Size,
			ExecTime: rec.ExecTime,
			RecvTime: rec.RecvTime,
		}
		if err := pw.Write(row); err != nil {
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mw.Bytes(), nil
}

func (r *FillRecorder) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(r.cfg.Storage.S3.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	ctx := context.WithoutCancel(r.ctx)
	_, err := r.s3Client.PutObject(ctx, input)
	return err
}

func (r *FillRecorder) s3Key(symbol string, ts time.Time) string {
	parts := []string{}
	if r.cfg.Storage.S3.Prefix != "" {
		parts = append(parts, r.cfg.Storage.S3.Prefix)
	}
	parts = append(parts,
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("year=%04d", ts.Year()),
		fmt.Sprintf("month=%02d", int(ts.Month())),
		fmt.Sprintf("day=%02d", ts.Day()),
		fmt.Sprintf("fills_%s_%d.parquet", symbol, ts.UnixNano()),
	)
	return filepath.ToSlash(filepath.Join(parts...))
}
