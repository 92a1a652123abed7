package domain

// ActorDescriptor — то, что реестр знает об акторе: идентификатор и список действий.
type ActorDescriptor struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`         // Человекочитаемое имя (например, "Reputation Keeper")
	Capabilities []string `json:"capabilities"` // Зарегистрированные действия
}
