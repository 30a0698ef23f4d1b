package writer

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"fraudflow/models"
	"fraudflow/partition"
)

// TransactionParquetRecord is the columnar schema of the lake mirror.
type TransactionParquetRecord struct {
	TxID          string  `parquet:"name=tx_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventTime     int64   `parquet:"name=event_time, type=INT64"`
	Dt            string  `parquet:"name=dt, type=BYTE_ARRAY, convertedtype=UTF8"`
	Hour          string  `parquet:"name=hour, type=BYTE_ARRAY, convertedtype=UTF8"`
	CustomerID    string  `parquet:"name=customer_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	MerchantID    string  `parquet:"name=merchant_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Country       string  `parquet:"name=country, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount        float64 `parquet:"name=amount, type=DOUBLE"`
	Currency      string  `parquet:"name=currency, type=BYTE_ARRAY, convertedtype=UTF8"`
	PaymentMethod string  `parquet:"name=payment_method, type=BYTE_ARRAY, convertedtype=UTF8"`
	DeviceID      string  `parquet:"name=device_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	IP            string  `parquet:"name=ip, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status        string  `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memoryFileWriter implements ParquetFile interface for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{
		buffer: &bytes.Buffer{},
	}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	// Writing is append-only; report the current position.
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// EncodeParquet renders normalized records as an in-memory parquet file for
// the lake mirror.
func EncodeParquet(records []models.NormalizedRecord) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := pqwriter.NewParquetWriter(fw, new(TransactionParquetRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		eventTime := int64(0)
		if t, err := partition.Parse(rec.Ts); err == nil {
			eventTime = t.UnixMilli()
		}
		row := TransactionParquetRecord{
			TxID:          rec.TxID,
			EventTime:     eventTime,
			Dt:            rec.Dt,
			Hour:          rec.Hour,
			CustomerID:    rec.CustomerID,
			MerchantID:    rec.MerchantID,
			Country:       rec.Country,
			Amount:        rec.Amount,
			Currency:      rec.Currency,
			PaymentMethod: rec.PaymentMethod,
			DeviceID:      rec.DeviceID,
			IP:            rec.IP,
			Status:        rec.Status,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}
