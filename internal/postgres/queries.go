package postgres

const (
	queryCreateRoom = `
		INSERT INTO main_rooms (name, capacity, is_active)
		VALUES ($1, $2, $3)
		RETURNING id::text, current_participants, created_at;
	`
	queryGetRoom = `
		SELECT id::text, name, capacity, is_active, current_participants, created_at
		FROM main_rooms
		WHERE id = $1;
	`
	queryLockRoom = `
		SELECT id::text, name, capacity, is_active, current_participants, created_at
		FROM main_rooms
		WHERE id = $1
		FOR UPDATE;
	`
	queryListRooms = `
		SELECT id::text, name, capacity, is_active, current_participants, created_at
		FROM main_rooms
		WHERE ($1::timestamptz IS NULL OR created_at < $1
		       OR (created_at = $1 AND id < $2::uuid))
		ORDER BY created_at DESC, id DESC
		LIMIT $3;
	`
	queryUpdateRoomSettings = `UPDATE main_rooms SET name = $2, capacity = $3, is_active = $4 WHERE id = $1;`
	queryIncrementRoomCount = `UPDATE main_rooms SET current_participants = current_participants + 1 WHERE id = $1 RETURNING current_participants;`
	queryCountRolesInRoom   = `
		SELECT
			COUNT(*) FILTER (WHERE role = 'publisher'),
			COUNT(*) FILTER (WHERE role = 'viewer')
		FROM room_participants
		WHERE room_id = $1 AND left_at IS NULL AND NOT was_kicked;
	`
)

const (
	participantColumns = `id::text, room_id::text, user_id, user_name, role, joined_at, left_at, was_kicked`

	queryActiveParticipantsByUser = `
		SELECT ` + participantColumns + `
		FROM room_participants
		WHERE room_id = $1 AND user_id = $2 AND left_at IS NULL AND NOT was_kicked;
	`
	queryCountActivePublishers = `
		SELECT COUNT(*)
		FROM room_participants
		WHERE room_id = $1 AND role = 'publisher' AND left_at IS NULL AND NOT was_kicked;
	`
	queryInsertParticipant = `
		INSERT INTO room_participants (id, room_id, user_id, user_name, role, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	queryUpdateParticipantRole = `
		UPDATE room_participants SET role = $2
		WHERE id = $1 AND left_at IS NULL AND NOT was_kicked;
	`
	queryListActiveParticipants = `
		SELECT ` + participantColumns + `
		FROM room_participants
		WHERE room_id = $1 AND left_at IS NULL AND NOT was_kicked
		  AND ($2::boolean = false OR role = 'publisher')
		ORDER BY joined_at ASC;
	`
)

const (
	queryInsertEvent = `
		INSERT INTO room_events (id, room_id, event_type, initiator_user_id, target_user_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING;
	`
	queryListEvents = `
		SELECT id::text, room_id::text, event_type, initiator_user_id, target_user_id, metadata, created_at
		FROM room_events
		WHERE room_id = $1
		  AND ($2::timestamptz IS NULL OR created_at < $2
		       OR (created_at = $2 AND id < $3::uuid))
		ORDER BY created_at DESC, id DESC
		LIMIT $4;
	`
)
