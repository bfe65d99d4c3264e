package broker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/targeted/mqbridge/internal/packet"
)

// Provider header fields, recognized by name in SEND commands and
// populated in RECEIVE packets. Any other unprefixed key carries an
// arbitrary string property.
const (
	FieldCorrelationID = "CorrelationID"
	FieldDeliveryMode  = "DeliveryMode"
	FieldExpiration    = "Expiration"
	FieldMessageID     = "MessageID"
	FieldPriority      = "Priority"
	FieldRedelivered   = "Redelivered"
	FieldTimestamp     = "Timestamp"
	FieldType          = "Type"
	FieldReplyTo       = "ReplyTo"
)

// MessageFromPacket builds the outbound message described by a SEND
// command. XMQBMessageText becomes the body, recognized header fields
// set typed attributes, remaining protocol fields are skipped, and
// every other key becomes a string property. MessageID is ignored: the
// provider assigns it on produce.
func MessageFromPacket(p *packet.Packet) (*Message, error) {
	msg := &Message{Properties: make(map[string]string)}

	for _, key := range p.Keys() {
		value, _ := p.Get(key)

		var err error
		switch key {
		case packet.FieldMessageText:
			msg.Text = value
		case FieldCorrelationID:
			msg.CorrelationID = value
		case FieldDeliveryMode:
			msg.DeliveryMode, err = strconv.Atoi(value)
		case FieldExpiration:
			msg.Expiration, err = strconv.ParseInt(value, 10, 64)
		case FieldPriority:
			msg.Priority, err = strconv.Atoi(value)
		case FieldRedelivered:
			msg.Redelivered, err = strconv.ParseBool(value)
		case FieldTimestamp:
			msg.Timestamp, err = strconv.ParseInt(value, 10, 64)
		case FieldType:
			msg.Type = value
		case FieldReplyTo:
			msg.ReplyTo = value
		case FieldMessageID:
			// provider-assigned
		default:
			if !strings.HasPrefix(key, packet.ReservedPrefix) {
				msg.Properties[key] = value
			}
		}
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
		}
	}
	return msg, nil
}

// PacketFromMessage flattens a consumed message into RECEIVE packet
// fields: body first, then the header attributes, then the string
// properties in sorted key order so the emitted checksums are
// deterministic.
func PacketFromMessage(msg *Message) (*packet.Packet, error) {
	p := packet.New()
	p.MustSet(packet.FieldMessageText, msg.Text)
	p.MustSet(FieldCorrelationID, msg.CorrelationID)
	p.MustSet(FieldDeliveryMode, strconv.Itoa(msg.DeliveryMode))
	p.MustSet(FieldExpiration, strconv.FormatInt(msg.Expiration, 10))
	p.MustSet(FieldMessageID, msg.MessageID)
	p.MustSet(FieldPriority, strconv.Itoa(msg.Priority))
	p.MustSet(FieldRedelivered, strconv.FormatBool(msg.Redelivered))
	p.MustSet(FieldTimestamp, strconv.FormatInt(msg.Timestamp, 10))
	p.MustSet(FieldType, msg.Type)
	p.MustSet(FieldReplyTo, msg.ReplyTo)

	keys := make([]string, 0, len(msg.Properties))
	for k := range msg.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := p.Set(k, msg.Properties[k]); err != nil {
			return nil, fmt.Errorf("message property: %w", err)
		}
	}
	return p, nil
}
