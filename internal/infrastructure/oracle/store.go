package oracle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/facturapy/sifen-worker/internal/domain"
	"github.com/facturapy/sifen-worker/internal/domain/entity"
	"github.com/facturapy/sifen-worker/pkg/logger"
)

// Store acceso a las tablas del ciclo de vida. Registro no encontrado
// devuelve (nil, nil): para el despachador es un descarte, no un error.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// NewStore construye el repositorio Oracle.
func NewStore(db *sql.DB, log *logger.Logger) *Store {
	return &Store{db: db, log: log}
}

// GetEmission trae el registro de emisión del documento fiscal. Si hay filas
// duplicadas para el mismo id_docfis gana la más nueva (mayor id).
func (s *Store) GetEmission(ctx context.Context, id entity.FiscalDocumentID) (*entity.Emission, error) {
	const query = `
		SELECT id, id_docfis, XML, XML_RETORNO, cod_status, desc_status,
		       caminho_certificado, senha, id_csc, csc, protocolo,
		       XML_ASSINADO, XML_CANCELAMENTO_ENVIO, XML_CANCELAMENTO_RETORNO,
		       TIPO_DOCTO
		FROM tb_de_emissao
		WHERE id_docfis = :id_docfis
		ORDER BY id DESC
		FETCH FIRST 1 ROWS ONLY`

	var (
		e                                entity.Emission
		xmlOriginal, xmlResp             sql.NullString
		codStatus, descStatus            sql.NullString
		certPath, certPass, cscID, csc   sql.NullString
		protocol                         sql.NullString
		xmlSigned, cancelReq, cancelResp sql.NullString
		docType                          sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, sql.Named("id_docfis", int64(id))).Scan(
		&e.ID, &e.DocfisID, &xmlOriginal, &xmlResp, &codStatus, &descStatus,
		&certPath, &certPass, &cscID, &csc, &protocol,
		&xmlSigned, &cancelReq, &cancelResp, &docType,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: leer tb_de_emissao id_docfis=%d: %v", domain.ErrStore, id, err)
	}
	e.XMLOriginal = xmlOriginal.String
	e.XMLResponse = xmlResp.String
	e.StatusCode = codStatus.String
	e.StatusDesc = descStatus.String
	e.CertPath = certPath.String
	e.CertPass = certPass.String
	e.CSCID = cscID.String
	e.CSC = csc.String
	e.Protocol = protocol.String
	e.XMLSigned = xmlSigned.String
	e.XMLCancelRequest = cancelReq.String
	e.XMLCancelResponse = cancelResp.String
	e.DocType = docType.String
	return &e, nil
}

// GetDocument trae el registro externo de estado (tb_de_documento).
func (s *Store) GetDocument(ctx context.Context, id entity.FiscalDocumentID) (*entity.Document, error) {
	const query = `
		SELECT id_doc, cod_status, desc_status
		FROM tb_de_documento
		WHERE id_doc = :id_doc`

	var (
		d          entity.Document
		code       sql.NullInt64
		descStatus sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, sql.Named("id_doc", int64(id))).Scan(&d.ID, &code, &descStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: leer tb_de_documento id_doc=%d: %v", domain.ErrStore, id, err)
	}
	d.StatusCode = int(code.Int64)
	d.StatusDesc = descStatus.String
	return &d, nil
}

// UpdateEmission sobreescribe los campos no nulos de la emisión. La cláusula
// SET se arma solo con lo presente, como actualización parcial.
func (s *Store) UpdateEmission(ctx context.Context, id entity.FiscalDocumentID, upd entity.EmissionUpdate) error {
	sets := make([]string, 0, 7)
	args := []any{sql.Named("id_docfis", int64(id))}

	add := func(column, param string, value *string) {
		if value != nil {
			sets = append(sets, fmt.Sprintf("%s = :%s", column, param))
			args = append(args, sql.Named(param, *value))
		}
	}
	add("XML_ASSINADO", "xml_assinado", upd.XMLSigned)
	add("XML_RETORNO", "xml_retorno", upd.XMLResponse)
	add("XML_CANCELAMENTO_ENVIO", "xml_cancelamento_envio", upd.XMLCancelRequest)
	add("XML_CANCELAMENTO_RETORNO", "xml_cancelamento_retorno", upd.XMLCancelResponse)
	add("protocolo", "protocolo", upd.Protocol)
	add("cod_status", "cod_status", upd.StatusCode)
	add("desc_status", "desc_status", upd.StatusDesc)

	if len(sets) == 0 {
		return nil
	}
	query := fmt.Sprintf("UPDATE tb_de_emissao SET %s WHERE id_docfis = :id_docfis", strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: actualizar tb_de_emissao id_docfis=%d: %v", domain.ErrStore, id, err)
	}
	s.log.Debug().Int64("id_docfis", int64(id)).Int("campos", len(sets)).Msg("tb_de_emissao actualizada")
	return nil
}

// UpdateDocument actualiza cod_status/desc_status del registro externo.
func (s *Store) UpdateDocument(ctx context.Context, id entity.FiscalDocumentID, code *int, desc *string) error {
	sets := make([]string, 0, 2)
	args := []any{sql.Named("id_doc", int64(id))}
	if code != nil {
		sets = append(sets, "cod_status = :cod_status")
		args = append(args, sql.Named("cod_status", *code))
	}
	if desc != nil {
		sets = append(sets, "desc_status = :desc_status")
		args = append(args, sql.Named("desc_status", *desc))
	}
	if len(sets) == 0 {
		return nil
	}
	query := fmt.Sprintf("UPDATE tb_de_documento SET %s WHERE id_doc = :id_doc", strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: actualizar tb_de_documento id_doc=%d: %v", domain.ErrStore, id, err)
	}
	return nil
}
