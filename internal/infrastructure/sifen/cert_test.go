package sifen

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/facturapy/sifen-worker/internal/domain"
	"github.com/facturapy/sifen-worker/internal/domain/entity"
)

const testP12Password = "test1234"

// newTestP12 genera un certificado autofirmado con llave RSA y lo escribe
// como .p12 en un directorio temporal. Usa el encoder legacy, compatible con
// el decoder de producción.
func newTestP12(t *testing.T) (path string, key *rsa.PrivateKey, cert *x509.Certificate) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "generar llave RSA")

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "EMPRESA DE PRUEBA S.A.", Country: []string{"PY"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err, "crear certificado")
	cert, err = x509.ParseCertificate(der)
	require.NoError(t, err, "parsear certificado")

	pfx, err := gopkcs12.Legacy.Encode(key, cert, nil, testP12Password)
	require.NoError(t, err, "codificar p12")

	path = filepath.Join(t.TempDir(), "cert.p12")
	require.NoError(t, os.WriteFile(path, pfx, 0o600), "escribir p12")
	return path, key, cert
}

// sampleBadCredentials apunta a un p12 inexistente.
func sampleBadCredentials() entity.Credentials {
	return entity.Credentials{CertPath: "/no/existe/cert.p12", CertPassword: "x"}
}

func TestLoadCertificate(t *testing.T) {
	path, key, cert := newTestP12(t)

	loaded, err := LoadCertificate(path, testP12Password)
	require.NoError(t, err, "el p12 de prueba debe cargar")
	assert.Equal(t, key.D, loaded.PrivateKey.(*rsa.PrivateKey).D, "la llave privada debe coincidir")

	leaf, err := LeafCertificate(loaded)
	require.NoError(t, err)
	assert.Equal(t, cert.Raw, leaf.Raw, "el certificado hoja debe coincidir")
}

func TestLoadCertificatePassphraseIncorrecta(t *testing.T) {
	path, _, _ := newTestP12(t)

	_, err := LoadCertificate(path, "otra-clave")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCredential), "debe clasificarse como error de credencial")
}

func TestLoadCertificateArchivoInexistente(t *testing.T) {
	_, err := LoadCertificate("/no/existe/cert.p12", testP12Password)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCredential))
}
