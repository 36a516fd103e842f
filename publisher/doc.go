// Package publisher journals completed transactions and ships them to
// external sinks.
//
// Transactions produced by a model are stamped with the node's hybrid clock,
// converted to TxRecords and appended
// to a Pebble-backed journal with monotonically increasing sequence numbers.
// One Worker per configured sink reads the journal from its own cursor,
// filters records by symbol and source, encodes them with the sink's
// transformer and publishes them with exponential backoff. The cursor only
// advances after a successful publish, so delivery to sinks is at least once
// and survives restarts.
//
// Key layout:
//
//	/txlog/{seq:016x}     -> msgpack(TxRecord)
//	/txcursor/{sinkName}  -> uint64 (last published seq)
//	/txseq                -> uint64 (last assigned seq)
//
// Records below the minimum cursor of all sinks are deleted every 128
// sequence numbers.
//
// Example:
//
//	registry, err := publisher.NewRegistry(publisher.RegistryConfig{
//		DataDir:     "/var/lib/txfeed",
//		NodeID:      cfg.Config.NodeID,
//		SinkConfigs: cfg.Config.Sinks,
//	})
//	if err != nil {
//		return err
//	}
//	registry.Start()
//	defer registry.Stop()
//
//	txModel, err := model.NewTxModel(model.TxModelConfig[Payload]{
//		Feed:     hub,
//		Symbol:   "IBM",
//		Listener: publisher.TxListener[Payload](registry, "IBM"),
//	})
package publisher
