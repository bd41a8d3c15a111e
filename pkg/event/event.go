package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New は新しいイベントを生成する。IDと作成日時はここで採番する。
func New(eventType Type, requestID, route string) (*Event, error) {
	if !eventType.Valid() {
		return nil, fmt.Errorf("未知のイベント種別です: %q", eventType)
	}
	return &Event{
		ID:        uuid.New().String(),
		RequestID: requestID,
		EventType: eventType,
		Route:     route,
		CreatedAt: time.Now().UTC(),
	}, nil
}
