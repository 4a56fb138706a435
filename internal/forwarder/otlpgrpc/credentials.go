package otlpgrpc

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"

	"github.com/hnakamur/errstack"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// TLSConfig names the PEM files used for the collector connection.
type TLSConfig struct {
	Insecure             bool
	CACertificate        string
	ClientCertificate    string
	ClientCertificateKey string
}

// TransportCredentials loads the configured certificates. A nil config means
// an insecure connection.
func (c *TLSConfig) TransportCredentials() (credentials.TransportCredentials, error) {
	if c == nil || c.Insecure {
		return insecure.NewCredentials(), nil
	}

	var caCertPool *x509.CertPool
	if c.CACertificate != "" {
		caPem, err := os.ReadFile(c.CACertificate)
		if err != nil {
			return nil, errstack.WithLV(errstack.Errorf("failed to read otlpgrpc CA Certificate %s err=%+v", c.CACertificate, err))
		}
		caCertPool = x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caPem) {
			return nil, errors.New("failed to load ca certificate")
		}
	}

	certificates := []tls.Certificate{}
	if c.ClientCertificate != "" && c.ClientCertificateKey != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCertificate, c.ClientCertificateKey)
		if err != nil {
			return nil, errstack.WithLV(errstack.Errorf("failed to LoadX509KeyPair cert=%s key=%s err=%+v",
				c.ClientCertificate, c.ClientCertificateKey, err))
		}
		certificates = append(certificates, cert)
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: certificates,
		RootCAs:      caCertPool,
	}), nil
}

// Dial opens a round-robin client connection to url.
func Dial(url string, tlsConfig *TLSConfig) (*grpc.ClientConn, error) {
	creds, err := tlsConfig.TransportCredentials()
	if err != nil {
		return nil, err
	}
	return grpc.NewClient(url,
		grpc.WithDefaultServiceConfig(`{"loadBalancingConfig": [{"round_robin":{}}]}`),
		grpc.WithTransportCredentials(creds),
	)
}
