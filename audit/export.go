// Package audit exports the transaction ledger into offline report files for
// compliance archiving.
package audit

import (
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"guardian/native/txrecord"
)

// Export writes the records as a CSV and a parquet file under dir, named with
// the supplied timestamp. It returns both paths.
func Export(dir string, at time.Time, records []*txrecord.TxRecord) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("audit: create export dir: %w", err)
	}
	base := fmt.Sprintf("ledger_%s", at.UTC().Format("20060102T150405Z"))
	csvPath := filepath.Join(dir, base+".csv")
	if err := writeCSV(csvPath, records); err != nil {
		return "", "", err
	}
	parquetPath := filepath.Join(dir, base+".parquet")
	if err := writeParquet(parquetPath, records); err != nil {
		return "", "", err
	}
	return csvPath, parquetPath, nil
}

func writeCSV(path string, records []*txrecord.TxRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{
		"tx_id", "status", "release_time", "requester", "target", "value",
		"gas_limit", "operation_type", "execution_type", "execution_options", "result",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("audit: write csv header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			strconv.FormatUint(rec.TxID, 10),
			rec.Status.String(),
			strconv.FormatInt(rec.ReleaseTime, 10),
			hex.EncodeToString(rec.Params.Requester[:]),
			hex.EncodeToString(rec.Params.Target[:]),
			valueString(rec),
			strconv.FormatUint(rec.Params.GasLimit, 10),
			hex.EncodeToString(rec.Params.OperationType[:]),
			rec.Params.ExecutionType.String(),
			hex.EncodeToString(rec.Params.ExecutionOptions),
			hex.EncodeToString(rec.Result),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("audit: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	TxID             int64  `parquet:"name=tx_id, type=INT64"`
	Status           string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReleaseTime      int64  `parquet:"name=release_time, type=INT64"`
	Requester        string `parquet:"name=requester, type=BYTE_ARRAY, convertedtype=UTF8"`
	Target           string `parquet:"name=target, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value            string `parquet:"name=value, type=BYTE_ARRAY, convertedtype=UTF8"`
	GasLimit         int64  `parquet:"name=gas_limit, type=INT64"`
	OperationType    string `parquet:"name=operation_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExecutionType    string `parquet:"name=execution_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExecutionOptions string `parquet:"name=execution_options, type=BYTE_ARRAY, convertedtype=UTF8"`
	Result           string `parquet:"name=result, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, records []*txrecord.TxRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row := &parquetRow{
			TxID:             int64(rec.TxID),
			Status:           rec.Status.String(),
			ReleaseTime:      rec.ReleaseTime,
			Requester:        hex.EncodeToString(rec.Params.Requester[:]),
			Target:           hex.EncodeToString(rec.Params.Target[:]),
			Value:            valueString(rec),
			GasLimit:         int64(rec.Params.GasLimit),
			OperationType:    hex.EncodeToString(rec.Params.OperationType[:]),
			ExecutionType:    rec.Params.ExecutionType.String(),
			ExecutionOptions: hex.EncodeToString(rec.Params.ExecutionOptions),
			Result:           hex.EncodeToString(rec.Result),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close parquet file: %w", err)
	}
	return nil
}

func valueString(rec *txrecord.TxRecord) string {
	if rec.Params.Value == nil {
		return "0"
	}
	return rec.Params.Value.String()
}
