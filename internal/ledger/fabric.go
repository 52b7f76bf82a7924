package ledger

import (
	"crypto/x509"
	"os"
	"path"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// FabricOptions locates the peer, the client identity and the chaincode
// that stores batch roots.
type FabricOptions struct {
	MSPID        string
	CertPath     string
	KeyDir       string
	TLSCertPath  string
	PeerEndpoint string
	GatewayPeer  string
	Channel      string
	Chaincode    string
}

func (o FabricOptions) validate() error {
	switch {
	case o.MSPID == "":
		return errors.New("msp id is required")
	case o.PeerEndpoint == "":
		return errors.New("peer endpoint is required")
	case o.Channel == "" || o.Chaincode == "":
		return errors.New("channel and chaincode are required")
	}
	return nil
}

// FabricLedger anchors batch roots on a Hyperledger Fabric channel.
type FabricLedger struct {
	clientConnection *grpc.ClientConn
	gateway          *client.Gateway
	contract         *client.Contract
}

func NewFabricLedger(opts FabricOptions) (*FabricLedger, error) {
	if err := opts.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid fabric options")
	}

	cert, err := loadCertificate(opts.CertPath)
	if err != nil {
		return nil, err
	}
	key, err := loadPrivateKey(opts.KeyDir)
	if err != nil {
		return nil, err
	}

	id, err := identity.NewX509Identity(opts.MSPID, cert)
	if err != nil {
		return nil, errors.Wrap(err, "creating identity")
	}
	sign, err := identity.NewPrivateKeySign(key)
	if err != nil {
		return nil, errors.Wrap(err, "creating signer")
	}

	transportCreds, err := credentials.NewClientTLSFromFile(opts.TLSCertPath, opts.GatewayPeer)
	if err != nil {
		return nil, errors.Wrap(err, "loading peer tls certificate")
	}
	conn, err := grpc.NewClient(opts.PeerEndpoint, grpc.WithTransportCredentials(transportCreds))
	if err != nil {
		return nil, errors.Wrapf(err, "dialing peer %s", opts.PeerEndpoint)
	}

	gateway, err := client.Connect(
		id,
		client.WithSign(sign),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(5*time.Second),
		client.WithEndorseTimeout(15*time.Second),
		client.WithSubmitTimeout(5*time.Second),
		client.WithCommitStatusTimeout(time.Minute),
	)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "connecting to gateway")
	}

	contract := gateway.GetNetwork(opts.Channel).GetContract(opts.Chaincode)
	return &FabricLedger{
		clientConnection: conn,
		gateway:          gateway,
		contract:         contract,
	}, nil
}

// Read returns the metadata stored for a batch root.
func (f *FabricLedger) Read(root string) (string, error) {
	result, err := f.contract.EvaluateTransaction("ReadAsset", root)
	if err != nil {
		return "", errors.Wrapf(err, "reading root %s", root)
	}
	return string(result), nil
}

// Write implements core.Ledger. It blocks until the transaction commits.
func (f *FabricLedger) Write(root string, metadata string) (string, error) {
	proposal, err := f.contract.NewProposal("CreateAsset",
		client.WithArguments(root, metadata, "1", "perf-collector", "0"))
	if err != nil {
		return "", errors.Wrap(err, "creating proposal")
	}
	transaction, err := proposal.Endorse()
	if err != nil {
		return "", errors.Wrap(err, "endorsing")
	}
	commit, err := transaction.Submit()
	if err != nil {
		return "", errors.Wrap(err, "submitting")
	}

	status, err := commit.Status()
	if err != nil {
		return "", errors.Wrap(err, "getting commit status")
	}
	if !status.Successful {
		return "", errors.Errorf("transaction %s failed with status code %d", transaction.TransactionID(), status.Code)
	}
	return transaction.TransactionID(), nil
}

func (f *FabricLedger) Close() error {
	f.gateway.Close()
	return f.clientConnection.Close()
}

func loadCertificate(filename string) (*x509.Certificate, error) {
	certificatePEM, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "reading certificate file")
	}
	return identity.CertificateFromPEM(certificatePEM)
}

func loadPrivateKey(dir string) (interface{}, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "reading key directory")
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no private key in %s", dir)
	}
	privateKeyPEM, err := os.ReadFile(path.Join(dir, files[0].Name()))
	if err != nil {
		return nil, errors.Wrap(err, "reading private key file")
	}
	return identity.PrivateKeyFromPEM(privateKeyPEM)
}
