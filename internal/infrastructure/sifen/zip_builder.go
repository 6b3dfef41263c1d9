package sifen

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
)

// BuildBatchPayload comprime el XML del lote en un zip de una sola entrada
// (documento.xml) y lo codifica en base64, el formato que espera el campo
// xDE de rEnvioLote.
func BuildBatchPayload(batchXML string) (string, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entry, err := zw.Create("documento.xml")
	if err != nil {
		return "", fmt.Errorf("crear entrada del zip: %w", err)
	}
	if _, err := entry.Write([]byte(batchXML)); err != nil {
		return "", fmt.Errorf("escribir XML en el zip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("cerrar zip: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
