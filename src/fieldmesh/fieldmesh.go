package fieldmesh

import (
	"fmt"

	"github.com/fieldmesh/fieldmesh/src/config"
	"github.com/fieldmesh/fieldmesh/src/crypto/keys"
	"github.com/fieldmesh/fieldmesh/src/ledger"
	"github.com/fieldmesh/fieldmesh/src/net"
	"github.com/fieldmesh/fieldmesh/src/node"
	"github.com/fieldmesh/fieldmesh/src/peers"
	"github.com/fieldmesh/fieldmesh/src/service"
	"github.com/sirupsen/logrus"
)

// FieldMesh is a struct containing the key parts of a fieldmesh agent. It
// wires the ledger store, the transport, the mesh node and the HTTP service
// together from a single Config.
type FieldMesh struct {
	Config    *config.Config
	Node      *node.Node
	Transport net.Transport
	Store     ledger.Store
	Peers     *peers.PeerSet
	Service   *service.Service
}

// NewFieldMesh is a factory method that returns a FieldMesh object with a
// config. It does not initialize the internal components; this is done in a
// separate Init method so the caller can tweak the config, or inject a peer
// set, before the components come up.
func NewFieldMesh(config *config.Config) *FieldMesh {
	engine := &FieldMesh{
		Config: config,
	}

	return engine
}

func (f *FieldMesh) initPeers() error {
	if f.Peers != nil {
		return nil
	}

	peerStore := peers.NewJSONPeerSet(f.Config.DataDir)

	participants, err := peerStore.PeerSet()
	if err != nil {
		return err
	}

	if participants.Len() < 2 {
		return fmt.Errorf("peers.json should define at least two peers")
	}

	f.Peers = participants

	return nil
}

func (f *FieldMesh) initStore() error {
	if !f.Config.Store {
		f.Store = ledger.NewInmemStore()

		f.Config.Logger().Debug("created new in-mem store")
	} else {
		var err error

		f.Config.Logger().WithField("path", f.Config.DatabaseDir).Debug("Attempting to load or create database")

		f.Store, err = ledger.LoadOrCreateBadgerStore(f.Config.DatabaseDir)
		if err != nil {
			return err
		}

		if f.Store.LastIndex() >= 0 {
			f.Config.Logger().Debug("loaded badger store from existing database")
		} else {
			f.Config.Logger().Debug("created new badger store from fresh database")
		}
	}

	return nil
}

func (f *FieldMesh) initTransport() error {
	transport, err := net.NewTCPTransport(
		f.Config.BindAddr,
		f.Config.AdvertiseAddr,
		f.Config.MaxPool,
		f.Config.TCPTimeout,
		f.Config.Logger(),
	)

	if err != nil {
		return err
	}

	f.Transport = transport

	return nil
}

func (f *FieldMesh) initKey() error {
	if f.Config.Key == nil {
		keyfile := keys.NewSimpleKeyfile(f.Config.Keyfile())

		privKey, err := keyfile.ReadKey()
		if err != nil {
			f.Config.Logger().Warn("Cannot read private key from file", err)

			privKey, err = Keygen(f.Config.Keyfile())
			if err != nil {
				f.Config.Logger().Error("Cannot generate a new private key", err)

				return err
			}

			f.Config.Logger().Info("Created a new key: ", keys.PublicKeyHex(&privKey.PublicKey))
		}

		f.Config.Key = privKey
	}

	return nil
}

func (f *FieldMesh) initNode() error {
	validator := node.NewValidator(f.Config.Key, f.Config.Moniker)

	p, ok := f.Peers.ByPubKey[validator.PublicKeyHex()]
	if !ok {
		return fmt.Errorf("cannot find self pubkey in peers.json")
	}

	if validator.Moniker == "" {
		validator.Moniker = p.Moniker
	}

	f.Config.Logger().WithFields(logrus.Fields{
		"id":      validator.ID(),
		"moniker": validator.Moniker,
		"peers":   f.Peers.Len(),
	}).Debug("PARTICIPANTS")

	nodeConf := node.NewConfig(
		f.Config.HeartbeatTimeout,
		f.Config.MissedHeartbeats,
		f.Config.MinPeers,
		f.Config.TCPTimeout,
		f.Config.CacheSize,
		f.Config.MaxHops,
		f.Config.RetryBase,
		f.Config.RetryCap,
		f.Config.MessageExpiry,
		f.Config.AuthorityAddr,
		f.Config.Logger().Logger,
	)

	f.Node = node.NewNode(
		nodeConf,
		validator,
		f.Peers,
		f.Store,
		f.Transport,
	)

	if err := f.Node.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %s", err)
	}

	return nil
}

func (f *FieldMesh) initService() error {
	if !f.Config.NoService {
		f.Service = service.NewService(f.Config.ServiceAddr, f.Node, f.Config.Logger())
	}
	return nil
}

// Init initializes the fieldmesh engine. We do not want the individual
// components to be initialized until this function is explicitly called.
func (f *FieldMesh) Init() error {
	if err := f.initPeers(); err != nil {
		f.Config.Logger().WithError(err).Error("fieldmesh.go:Init() initPeers")
		return err
	}

	if err := f.initStore(); err != nil {
		f.Config.Logger().WithError(err).Error("fieldmesh.go:Init() initStore")
		return err
	}

	if err := f.initTransport(); err != nil {
		f.Config.Logger().WithError(err).Error("fieldmesh.go:Init() initTransport")
		return err
	}

	if err := f.initKey(); err != nil {
		f.Config.Logger().WithError(err).Error("fieldmesh.go:Init() initKey")
		return err
	}

	if err := f.initNode(); err != nil {
		f.Config.Logger().WithError(err).Error("fieldmesh.go:Init() initNode")
		return err
	}

	if err := f.initService(); err != nil {
		f.Config.Logger().WithError(err).Error("fieldmesh.go:Init() initService")
		return err
	}

	return nil
}

// Run starts the engine's HTTP service, if enabled, and the underlying node.
// This is a blocking call.
func (f *FieldMesh) Run() {
	if f.Service != nil && f.Config.ServiceAddr != "" {
		go f.Service.Serve()
	}

	f.Node.Run()
}
