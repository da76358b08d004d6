// Package mqtt provides the MQTT connection used by the pet feeder bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS, including JSON payloads
//   - Topic subscriptions that are restored after a reconnect
//   - Last Will and Testament (LWT) so the bridge's absence is visible
//
// # Topics
//
// The bridge speaks the Gray Logic bridge topic layout:
//
//	graylogic/command/petlibro/{device_id}   commands in
//	graylogic/ack/petlibro/{device_id}       command results out
//	graylogic/state/petlibro/{device_id}     snapshots out (retained)
//	graylogic/health/petlibro                bridge health out (retained)
//	graylogic/system/{client_id}/status      online/offline (retained, LWT)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllBridgeCommands("petlibro"), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
