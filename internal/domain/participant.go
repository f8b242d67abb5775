package domain

import "time"

type Participant struct {
	ID        string     `db:"id"`
	RoomID    string     `db:"room_id"`
	UserID    string     `db:"user_id"`
	UserName  string     `db:"user_name"`
	Role      Role       `db:"role"`
	JoinedAt  time.Time  `db:"joined_at"`
	LeftAt    *time.Time `db:"left_at"`
	WasKicked bool       `db:"was_kicked"`
}

// IsActive: запись считается активной, пока участник не вышел и не был кикнут.
func (p *Participant) IsActive() bool {
	return p.LeftAt == nil && !p.WasKicked
}

func (p *Participant) IsPublisher() bool {
	return p.Role == RolePublisher
}

// Promote меняет роль на месте; понижение роли запрещено.
func (p *Participant) Promote(to Role) error {
	next, err := p.Role.Transition(to)
	if err != nil {
		return err
	}
	p.Role = next
	return nil
}
