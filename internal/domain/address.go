package domain

type Address struct {
	ID       string `bson:"_id" json:"id"`
	UserID   string `bson:"user_id" json:"user_id"`
	Line1    string `bson:"line1" json:"line1"`
	City     string `bson:"city" json:"city"`
	Zone     string `bson:"zone" json:"zone"`
	Landmark string `bson:"landmark,omitempty" json:"landmark,omitempty"`
	Phone    string `bson:"phone" json:"phone"`
}
